package data

import (
	"time"
)

// MessageType tags the payload carried in Message.Content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage
}

// User maps to users collection (id, email, password hash, timestamps)
type User struct {
	ID        int64     `bson:"_id" json:"id"`
	Email     string    `bson:"email" json:"email"`
	Password  string    `bson:"password" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Message maps to messages collection. Everything except IsRead is
// immutable once appended.
type Message struct {
	ID              int64       `bson:"_id" json:"id"`
	SenderID        int64       `bson:"sender_id" json:"senderId"`
	ReceiverID      int64       `bson:"receiver_id" json:"receiverId"`
	ProductID       *int64      `bson:"product_id" json:"productId,omitempty"`
	Content         string      `bson:"content" json:"content"`
	MessageType     MessageType `bson:"message_type" json:"messageType"`
	IsRead          bool        `bson:"is_read" json:"isRead"`
	CreatedAt       time.Time   `bson:"created_at" json:"createdAt"`
	ClientMessageID string      `bson:"client_message_id,omitempty" json:"clientMessageId,omitempty"`
}

// NewMessage is the input to MessageStore.Append.
type NewMessage struct {
	SenderID        int64
	ReceiverID      int64
	ProductID       *int64
	Content         string
	MessageType     MessageType
	ClientMessageID string
}

// ConversationSummary is one entry of ListConversationsFor: the latest
// message exchanged with a counterpart (optionally scoped to a product) and
// the number of unread messages addressed to the requesting user.
type ConversationSummary struct {
	CounterpartID int64   `json:"counterpartId"`
	ProductID     *int64  `json:"productId,omitempty"`
	LastMessage   Message `json:"lastMessage"`
	UnreadCount   int64   `json:"unreadCount"`
}
