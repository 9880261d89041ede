package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatrelay/internal/models"
)

const offlineMessage = "User offline"

var errInvalidPayload = errors.New("invalid payload")

// Inbound handlers. They run on the client's read goroutine, so the store
// write for a message happens before the next event from the same
// connection is looked at.

func (c *Client) handleSendMessage(raw json.RawMessage) {
	var req models.SendMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.reject("decode", errInvalidPayload)
		return
	}
	if err := models.ValidateMessage(req.Message); err != nil {
		c.reject("validation", err)
		return
	}

	channel := req.Channel
	if strings.TrimSpace(channel) == "" {
		channel = c.hub.opts.DefaultChannel
	} else if err := models.ValidateChannel(channel); err != nil {
		c.reject("validation", err)
		return
	}

	msg := &models.Message{
		ID:         newMessageID(),
		Content:    strings.TrimSpace(req.Message),
		SenderID:   c.user.ID,
		SenderName: c.user.Username,
		Channel:    channel,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.hub.persist(msg); err != nil {
		c.failPersist(err)
		return
	}
	c.hub.submit(publicDeliveryCmd{sender: c, msg: *msg})
}

func (c *Client) handlePrivateMessage(raw json.RawMessage) {
	var req models.PrivateMessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.reject("decode", errInvalidPayload)
		return
	}
	if err := models.ValidateMessage(req.Message); err != nil {
		c.reject("validation", err)
		return
	}

	recipientID, err := c.hub.resolveRecipient(req.To, req.ToUserID)
	if err != nil {
		c.hub.metrics.recordError("recipient_offline")
		c.notify(models.EventPMError, models.ErrorPayload{Message: offlineMessage})
		return
	}

	msg := &models.Message{
		ID:          newMessageID(),
		Content:     strings.TrimSpace(req.Message),
		SenderID:    c.user.ID,
		SenderName:  c.user.Username,
		RecipientID: recipientID,
		IsPrivate:   true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.hub.persist(msg); err != nil {
		c.failPersist(err)
		return
	}
	c.hub.submit(privateDeliveryCmd{sender: c, msg: *msg})
}

func (c *Client) handleJoinChannel(raw json.RawMessage) {
	channel, ok := c.decodeChannel(raw)
	if !ok {
		return
	}
	c.hub.submit(joinCmd{client: c, channel: channel})
}

func (c *Client) handleLeaveChannel(raw json.RawMessage) {
	channel, ok := c.decodeChannel(raw)
	if !ok {
		return
	}
	c.hub.submit(leaveCmd{client: c, channel: channel})
}

func (c *Client) handleTyping(raw json.RawMessage) {
	var typing bool
	if err := json.Unmarshal(raw, &typing); err != nil {
		c.reject("decode", errInvalidPayload)
		return
	}
	c.hub.submit(typingCmd{client: c, typing: typing})
}

func (c *Client) decodeChannel(raw json.RawMessage) (string, bool) {
	var channel string
	if err := json.Unmarshal(raw, &channel); err != nil {
		c.reject("decode", errInvalidPayload)
		return "", false
	}
	if err := models.ValidateChannel(channel); err != nil {
		c.reject("validation", err)
		return "", false
	}
	return channel, true
}

func (c *Client) failPersist(err error) {
	c.logger.Error("failed to persist message", zap.Error(err))
	c.hub.metrics.recordError("persist")
	c.notify(models.EventMessageError, models.ErrorPayload{Message: "Message could not be saved"})
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// persist writes msg with a bounded timeout.
func (h *Hub) persist(msg *models.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.SaveMessage(ctx, msg)
	h.metrics.observePersist(time.Since(start))
	if err != nil {
		return fmt.Errorf("persist message %s: %w", msg.ID, err)
	}
	return nil
}

// Hub side of routing.

type publicDeliveryCmd struct {
	sender *Client
	msg    models.Message
}

// execute fans the message out to the channel's members as of now.
func (c publicDeliveryCmd) execute(h *Hub) {
	data, err := encodeEvent(models.EventReceiveMessage, models.NewMessagePayload(c.msg, c.sender.id))
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("message_id", c.msg.ID), zap.Error(err))
		return
	}
	for connID := range h.channels.members(c.msg.Channel) {
		h.deliver(h.clients[connID], data)
	}
	h.metrics.recordMessage("public")
}

type privateDeliveryCmd struct {
	sender *Client
	msg    models.Message
}

// execute delivers to the recipient's current connection and echoes to the
// sender; a whisper to oneself arrives once.
func (c privateDeliveryCmd) execute(h *Hub) {
	data, err := encodeEvent(models.EventPrivateMessage, models.NewMessagePayload(c.msg, c.sender.id))
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("message_id", c.msg.ID), zap.Error(err))
		return
	}

	var recipient *Client
	if connID, ok := h.presence.connectionFor(c.msg.RecipientID); ok {
		recipient = h.clients[connID]
	}
	h.deliver(recipient, data)
	if c.sender != recipient {
		h.deliver(c.sender, data)
	}
	h.metrics.recordMessage("private")
}

type resolveCmd struct {
	connID string
	userID string
	reply  chan string
}

// execute answers with the durable id of an online target, or "".
func (c resolveCmd) execute(h *Hub) {
	if c.userID != "" {
		if _, ok := h.presence.connectionFor(c.userID); ok {
			c.reply <- c.userID
			return
		}
		c.reply <- ""
		return
	}
	if c.connID != "" {
		if userID, ok := h.presence.userForConnection(c.connID); ok {
			c.reply <- userID
			return
		}
	}
	c.reply <- ""
}

// resolveRecipient finds the durable id behind a private message target.
// userID wins over connID when both are set.
func (h *Hub) resolveRecipient(connID, userID string) (string, error) {
	reply := make(chan string, 1)
	if !h.submit(resolveCmd{connID: connID, userID: userID, reply: reply}) {
		return "", ErrHubStopped
	}
	if resolved := <-reply; resolved != "" {
		return resolved, nil
	}
	return "", ErrRecipientOffline
}

type joinCmd struct {
	client  *Client
	channel string
}

func (c joinCmd) execute(h *Hub) {
	if h.clients[c.client.id] != c.client {
		return
	}
	h.channels.join(c.client.id, c.channel)
	h.sendTo(c.client, models.EventChannelJoined, c.channel)
}

type leaveCmd struct {
	client  *Client
	channel string
}

// execute confirms the leave even when the client was not a member.
func (c leaveCmd) execute(h *Hub) {
	if h.clients[c.client.id] != c.client {
		return
	}
	if h.channels.isMember(c.client.id, c.channel) {
		h.channels.leave(c.client.id, c.channel)
	} else {
		h.logger.Debug("leave from non-member",
			zap.String("conn_id", c.client.id),
			zap.String("channel", c.channel))
	}
	h.sendTo(c.client, models.EventChannelLeft, c.channel)
}

type typingCmd struct {
	client *Client
	typing bool
}

func (c typingCmd) execute(h *Hub) {
	if h.clients[c.client.id] != c.client {
		return
	}
	h.typing.set(c.client.id, c.client.user.Username, c.typing)
	h.broadcastTyping()
}

// History returns stored messages matching filter, oldest first. Each
// record carries its sender's live connection id when the sender is online.
func (h *Hub) History(ctx context.Context, filter models.MessageFilter) ([]models.MessagePayload, error) {
	if filter.Limit <= 0 {
		filter.Limit = h.opts.HistoryLimit
	}
	records, err := h.store.QueryMessages(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	online, err := h.OnlineUsers(ctx)
	if err != nil {
		return nil, err
	}
	connections := make(map[string]string, len(online))
	for _, user := range online {
		connections[user.UserID] = user.ConnectionID
	}

	history := make([]models.MessagePayload, len(records))
	for i, record := range records {
		history[len(records)-1-i] = models.NewMessagePayload(record, connections[record.SenderID])
	}
	return history, nil
}
