package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Validation limits for user supplied text.
const (
	MaxUsernameLength = 50
	MinPasswordLength = 6
	MaxChannelLength  = 100
	MaxMessageLength  = 5000
)

// Validation errors.
var (
	ErrUsernameEmpty   = errors.New("username cannot be empty")
	ErrUsernameTooLong = errors.New("username exceeds maximum length")
	ErrPasswordShort   = errors.New("password must be at least 6 characters")
	ErrChannelEmpty    = errors.New("channel name cannot be empty")
	ErrChannelTooLong  = errors.New("channel name exceeds maximum length")
	ErrMessageEmpty    = errors.New("message content cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMessageInvalid  = errors.New("message contains invalid characters")
)

type User struct {
	ID        string    `json:"_id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Message is an immutable chat message record. Channel is empty for
// private messages and RecipientID is empty for public ones.
type Message struct {
	ID          string    `db:"id"`
	Content     string    `db:"content"`
	SenderID    string    `db:"sender_id"`
	SenderName  string    `db:"sender_name"`
	RecipientID string    `db:"recipient_id"`
	IsPrivate   bool      `db:"is_private"`
	Channel     string    `db:"channel"`
	CreatedAt   time.Time `db:"created_at"`
}

// MessageFilter selects history records. The zero value selects public
// messages only.
type MessageFilter struct {
	// UserID is the authenticated caller, if any.
	UserID string
	// PrivateOnly restricts results to whispers sent or received by UserID.
	PrivateOnly bool
	// Channel restricts results to public messages of one channel.
	Channel string
	Limit   int
}

// OnlineUser is one entry of the presence list.
type OnlineUser struct {
	ConnectionID string `json:"id"`
	UserID       string `json:"dbId"`
	Username     string `json:"username"`
}

// Request/Response structures
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// UserStatus is a registered user annotated with live presence.
type UserStatus struct {
	ConnectionID *string `json:"id"`
	UserID       string  `json:"dbId"`
	Username     string  `json:"username"`
	Online       bool    `json:"online"`
}

// ValidateCredentials checks a registration request.
func ValidateCredentials(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordShort
	}
	return nil
}

// ValidateChannel validates a channel name.
func ValidateChannel(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrChannelEmpty
	}
	if len(name) > MaxChannelLength {
		return ErrChannelTooLong
	}
	return nil
}

// ValidateMessage validates message content.
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}
