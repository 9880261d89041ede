package models

import (
	"encoding/json"
	"time"
)

// EventType names every event that crosses a chat connection.
type EventType string

// Client to server events.
const (
	EventSendMessage    EventType = "send_message"
	EventJoinChannel    EventType = "join_channel"
	EventLeaveChannel   EventType = "leave_channel"
	EventTyping         EventType = "typing"
	EventPrivateMessage EventType = "private_message"
)

// Server to client events. EventPrivateMessage is shared by both directions.
const (
	EventMe             EventType = "me"
	EventUserList       EventType = "user_list"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventReceiveMessage EventType = "receive_message"
	EventChannelJoined  EventType = "channel_joined"
	EventChannelLeft    EventType = "channel_left"
	EventTypingUsers    EventType = "typing_users"
	EventPMError        EventType = "pm_error"
	EventMessageError   EventType = "message_error"
	EventError          EventType = "error"
)

// WebSocketMessage is the envelope written to clients.
type WebSocketMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// InboundMessage is the envelope read from clients; the payload is decoded
// once the type is known.
type InboundMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendMessageRequest is the send_message payload. A bare JSON string is
// accepted as the message text.
type SendMessageRequest struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

func (r *SendMessageRequest) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*r = SendMessageRequest{Message: text}
		return nil
	}
	type plain SendMessageRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = SendMessageRequest(p)
	return nil
}

// PrivateMessageRequest is the private_message payload. ToUserID is
// preferred; To is a live connection id kept for older clients.
type PrivateMessageRequest struct {
	To       string `json:"to,omitempty"`
	ToUserID string `json:"toDbId,omitempty"`
	Message  string `json:"message"`
}

type MePayload struct {
	UserID string `json:"dbId"`
}

type UserEventPayload struct {
	Username string `json:"username"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// MessagePayload is the wire form of a delivered or historical message.
type MessagePayload struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	Sender       string    `json:"sender"`
	SenderID     *string   `json:"senderId"`
	SenderUserID string    `json:"senderDbId"`
	RecipientID  *string   `json:"recipientDbId"`
	Channel      string    `json:"channel,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IsPrivate    bool      `json:"isPrivate"`
}

// NewMessagePayload formats msg for the wire. senderConn is the sender's
// live connection id, empty when offline.
func NewMessagePayload(msg Message, senderConn string) MessagePayload {
	p := MessagePayload{
		ID:           msg.ID,
		Message:      msg.Content,
		Sender:       msg.SenderName,
		SenderUserID: msg.SenderID,
		Channel:      msg.Channel,
		Timestamp:    msg.CreatedAt,
		IsPrivate:    msg.IsPrivate,
	}
	if senderConn != "" {
		p.SenderID = &senderConn
	}
	if msg.RecipientID != "" {
		recipient := msg.RecipientID
		p.RecipientID = &recipient
	}
	return p
}
