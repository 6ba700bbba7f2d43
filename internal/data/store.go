package data

import (
	"context"
	"sort"

	"github.com/PaulBabatuyi/marketChat/internal/normalize"
)

// MessageStore is the durable record of conversation data. Implementations
// must assign strictly increasing ids whose createdAt never decreases, even
// under concurrent Append calls.
type MessageStore interface {
	// Append validates and persists a message. created is false when the
	// sender already stored a message with the same ClientMessageID; the
	// stored message is returned in that case.
	Append(ctx context.Context, in NewMessage) (msg *Message, created bool, err error)
	// ListBetween returns the conversation between a and b ordered by id.
	// Argument order does not matter.
	ListBetween(ctx context.Context, a, b int64, productID *int64) ([]*Message, error)
	// ListConversationsFor returns one summary per (counterpart, product)
	// pair, most recently active first.
	ListConversationsFor(ctx context.Context, userID int64) ([]*ConversationSummary, error)
	// MarkRead flags every unread message from counterpartID to userID in
	// the given conversation as read and reports how many changed.
	MarkRead(ctx context.Context, userID, counterpartID int64, productID *int64) (int64, error)
}

// UserStore persists the identities messages refer to.
type UserStore interface {
	CreateUser(ctx context.Context, email, hashedPassword string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	UserExists(ctx context.Context, id int64) (bool, error)
}

// userLookup is the part of UserStore Append needs.
type userLookup interface {
	UserExists(ctx context.Context, id int64) (bool, error)
}

// prepare checks the shape of a new message and returns its normalized form.
func prepare(in NewMessage) (NewMessage, error) {
	in.Content = normalize.Content(in.Content)
	if in.MessageType == "" {
		in.MessageType = MessageTypeText
	}
	switch {
	case in.SenderID <= 0:
		return in, invalid("senderId", "missing")
	case in.ReceiverID <= 0:
		return in, invalid("receiverId", "missing")
	case in.SenderID == in.ReceiverID:
		return in, invalid("receiverId", "cannot message yourself")
	case in.Content == "":
		return in, invalid("content", "empty")
	case !in.MessageType.Valid():
		return in, invalid("messageType", "unknown type "+string(in.MessageType))
	}
	return in, nil
}

// checkParticipants fails with a ValidationError unless both ends exist.
func checkParticipants(ctx context.Context, users userLookup, in NewMessage) error {
	ok, err := users.UserExists(ctx, in.SenderID)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("senderId", "unknown user")
	}
	if ok, err = users.UserExists(ctx, in.ReceiverID); err != nil {
		return err
	}
	if !ok {
		return invalid("receiverId", "unknown user")
	}
	return nil
}

// SameProduct compares two optional product ids.
func SameProduct(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// inConversation reports whether m belongs to the (a, b, productID) conversation.
func inConversation(m *Message, a, b int64, productID *int64) bool {
	pair := (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
	return pair && SameProduct(m.ProductID, productID)
}

type conversationKey struct {
	counterpart int64
	product     int64
	scoped      bool
}

func keyFor(m *Message, userID int64) conversationKey {
	k := conversationKey{counterpart: m.SenderID}
	if m.SenderID == userID {
		k.counterpart = m.ReceiverID
	}
	if m.ProductID != nil {
		k.product, k.scoped = *m.ProductID, true
	}
	return k
}

// summarize groups msgs (any order) into the conversations of userID.
// Used by drivers that scan rather than aggregate server-side.
func summarize(msgs []*Message, userID int64) []*ConversationSummary {
	byKey := map[conversationKey]*ConversationSummary{}
	for _, m := range msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		k := keyFor(m, userID)
		s, ok := byKey[k]
		if !ok {
			s = &ConversationSummary{CounterpartID: k.counterpart, ProductID: m.ProductID}
			byKey[k] = s
		}
		if m.ID > s.LastMessage.ID {
			s.LastMessage = *m
		}
		if m.ReceiverID == userID && !m.IsRead {
			s.UnreadCount++
		}
	}

	out := make([]*ConversationSummary, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessage.ID > out[j].LastMessage.ID })
	return out
}
