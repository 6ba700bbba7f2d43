// Package fanout pushes stored messages to the live channels of both
// participants.
package fanout

import (
	"log/slog"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/wire"
)

// Pusher delivers a frame to every live channel of a user and reports how
// many accepted it.
type Pusher interface {
	Push(userID int64, frame any) int
}

// Notifier turns persisted messages into outbound frames. Delivery is best
// effort: an offline user is simply skipped and catches up by pulling.
type Notifier struct {
	push Pusher
	log  *slog.Logger
}

func NewNotifier(push Pusher, log *slog.Logger) *Notifier {
	return &Notifier{push: push, log: log}
}

// Publish sends new_message to every receiver channel and message_sent to
// every sender channel. Callers must invoke it in append order for a
// conversation; frames leave in the order Publish is called.
func (n *Notifier) Publish(m *data.Message) {
	if got := n.push.Push(m.ReceiverID, wire.NewMessage(m)); got == 0 {
		n.log.Debug("receiver offline", "message", m.ID, "receiver", m.ReceiverID)
	}
	n.push.Push(m.SenderID, wire.MessageSent(m))
}

// Echo confirms an already stored message to its sender only. Used when a
// client retries a send that had already been persisted.
func (n *Notifier) Echo(m *data.Message) {
	n.push.Push(m.SenderID, wire.MessageSent(m))
}

// NotifyUnread pushes a notification snapshot to userID.
func (n *Notifier) NotifyUnread(userID int64, hasNew bool) {
	n.push.Push(userID, wire.NewNotificationUpdate(hasNew))
}
