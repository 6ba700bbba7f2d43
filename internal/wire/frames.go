// Package wire defines the JSON frames exchanged over a chat channel.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/marketChat/internal/data"
)

// Frame types. The first two travel client→server, the rest server→client.
const (
	TypeAuthenticate       = "authenticate"
	TypeSendMessage        = "send_message"
	TypeAuthenticated      = "authenticated"
	TypeNewMessage         = "new_message"
	TypeMessageSent        = "message_sent"
	TypeNotificationUpdate = "message_notification_update"
	TypeError              = "error"
)

// Error codes carried by error frames.
const (
	CodeValidation      = "validation"
	CodeUnauthenticated = "unauthenticated"
	CodeRateLimited     = "rate_limited"
	CodeBadFrame        = "bad_frame"
	CodeInternal        = "internal"
)

// Envelope is decoded first to route an inbound frame by its type.
type Envelope struct {
	Type string `json:"type"`
}

// Authenticate binds the channel to UserID. Token is the session JWT; the
// server rejects the frame if the token's subject is not UserID.
type Authenticate struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Token  string `json:"token" validate:"required"`
}

// SendMessage asks the server to persist and deliver a message.
// For image messages the caller supplies an already-encoded payload in
// Content or ImageURL.
type SendMessage struct {
	Type            string           `json:"type"`
	ReceiverID      int64            `json:"receiverId" validate:"required,gt=0"`
	ProductID       *int64           `json:"productId,omitempty" validate:"omitempty,gt=0"`
	Content         string           `json:"content"`
	MessageType     data.MessageType `json:"messageType" validate:"omitempty,oneof=text image"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	ClientMessageID string           `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

// Body returns the content to persist: ImageURL stands in for an empty
// Content on image messages.
func (s SendMessage) Body() string {
	if s.Content == "" && s.MessageType == data.MessageTypeImage {
		return s.ImageURL
	}
	return s.Content
}

// Authenticated acknowledges a successful Authenticate.
type Authenticated struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// MessageEvent is used for both new_message and message_sent.
type MessageEvent struct {
	Type            string        `json:"type"`
	Message         *data.Message `json:"message"`
	ClientMessageID string        `json:"clientMessageId,omitempty"`
}

// NotificationUpdate is a snapshot of whether the user has unread messages.
type NotificationUpdate struct {
	Type           string `json:"type"`
	HasNewMessages bool   `json:"hasNewMessages"`
}

// ErrorBody describes why a frame was rejected.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error reports a rejected client frame. ClientMessageID echoes the id of
// a rejected send so the client can drop it from its pending set.
type Error struct {
	Type            string    `json:"type"`
	Error           ErrorBody `json:"error"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

func NewAuthenticated(userID int64) Authenticated {
	return Authenticated{Type: TypeAuthenticated, UserID: userID}
}

func NewMessage(m *data.Message) MessageEvent {
	return MessageEvent{Type: TypeNewMessage, Message: m}
}

func MessageSent(m *data.Message) MessageEvent {
	return MessageEvent{Type: TypeMessageSent, Message: m, ClientMessageID: m.ClientMessageID}
}

func NewNotificationUpdate(hasNew bool) NotificationUpdate {
	return NotificationUpdate{Type: TypeNotificationUpdate, HasNewMessages: hasNew}
}

func NewError(code, msg, clientMessageID string) Error {
	return Error{Type: TypeError, Error: ErrorBody{Code: code, Message: msg}, ClientMessageID: clientMessageID}
}

// Inbound is a decoded server→client frame. Exactly the fields relevant to
// Type are set.
type Inbound struct {
	Type            string        `json:"type"`
	UserID          int64         `json:"userId,omitempty"`
	Message         *data.Message `json:"message,omitempty"`
	ClientMessageID string        `json:"clientMessageId,omitempty"`
	HasNewMessages  bool          `json:"hasNewMessages,omitempty"`
	Error           *ErrorBody    `json:"error,omitempty"`
}

// DecodeInbound parses a server→client frame and checks that the payload
// its type requires is present.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode frame: %w", err)
	}
	switch in.Type {
	case TypeNewMessage, TypeMessageSent:
		if in.Message == nil {
			return in, fmt.Errorf("%s frame without message", in.Type)
		}
	case TypeError:
		if in.Error == nil {
			return in, errors.New("error frame without body")
		}
	case TypeAuthenticated, TypeNotificationUpdate:
	default:
		return in, fmt.Errorf("unknown frame type %q", in.Type)
	}
	return in, nil
}
