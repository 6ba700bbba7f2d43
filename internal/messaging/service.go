// Package messaging ties the message store to live delivery. It is the only
// writer of messages: every append goes through Send so push order matches
// id order.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/fanout"
	"github.com/PaulBabatuyi/marketChat/internal/presence"
	"github.com/PaulBabatuyi/marketChat/internal/registry"
	"github.com/PaulBabatuyi/marketChat/internal/wire"
	"github.com/samber/lo"
)

type Service struct {
	msgs     data.MessageStore
	notify   *fanout.Notifier
	presence *presence.Tracker
	log      *slog.Logger

	// sendMu spans append and publish, and every unread snapshot, so a
	// snapshot never lands after a newer new_message.
	sendMu sync.Mutex
}

func NewService(msgs data.MessageStore, notify *fanout.Notifier, tracker *presence.Tracker, log *slog.Logger) *Service {
	return &Service{msgs: msgs, notify: notify, presence: tracker, log: log}
}

// Send persists a message and pushes it to both participants. A retried
// send (same sender and ClientMessageID) is only echoed back to the sender.
func (s *Service) Send(ctx context.Context, in data.NewMessage) (*data.Message, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	m, created, err := s.msgs.Append(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if !created {
		s.log.Debug("duplicate send", "message", m.ID, "sender", m.SenderID, "client_message_id", m.ClientMessageID)
		s.notify.Echo(m)
		return m, nil
	}
	s.notify.Publish(m)
	return m, nil
}

// History returns the conversation between userID and counterpartID.
func (s *Service) History(ctx context.Context, userID, counterpartID int64, productID *int64) ([]*data.Message, error) {
	if counterpartID <= 0 {
		return nil, &data.ValidationError{Field: "with", Reason: "missing"}
	}
	msgs, err := s.msgs.ListBetween(ctx, userID, counterpartID, productID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *Service) Conversations(ctx context.Context, userID int64) ([]*data.ConversationSummary, error) {
	convs, err := s.msgs.ListConversationsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// HasUnread reports whether any conversation of userID holds unread messages.
func (s *Service) HasUnread(ctx context.Context, userID int64) (bool, error) {
	convs, err := s.Conversations(ctx, userID)
	if err != nil {
		return false, err
	}
	return lo.SomeBy(convs, func(c *data.ConversationSummary) bool { return c.UnreadCount > 0 }), nil
}

// MarkRead marks the conversation read for userID and pushes the resulting
// notification snapshot to the user's channels.
func (s *Service) MarkRead(ctx context.Context, userID, counterpartID int64, productID *int64) (int64, error) {
	if counterpartID <= 0 {
		return 0, &data.ValidationError{Field: "counterpartId", Reason: "missing"}
	}
	n, err := s.msgs.MarkRead(ctx, userID, counterpartID, productID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	s.PushUnread(ctx, userID)
	return n, nil
}

// PushUnread sends userID a fresh notification snapshot. Failures are
// logged; the client can always pull.
func (s *Service) PushUnread(ctx context.Context, userID int64) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	hasNew, err := s.HasUnread(ctx, userID)
	if err != nil {
		s.log.Warn("unread snapshot failed", "user", userID, "error", err)
		return
	}
	s.notify.NotifyUnread(userID, hasNew)
}

// SnapshotTo sends the unread snapshot for userID to a single channel, as
// done right after the handshake.
func (s *Service) SnapshotTo(ctx context.Context, ch registry.Channel, userID int64) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	hasNew, err := s.HasUnread(ctx, userID)
	if err != nil {
		return err
	}
	return ch.Send(wire.NewNotificationUpdate(hasNew))
}

func (s *Service) IsOnline(userID int64) bool {
	return s.presence.IsOnline(userID)
}
