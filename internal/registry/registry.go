// Package registry tracks which live channels belong to which user.
package registry

import (
	"log/slog"
	"sync"

	"github.com/PaulBabatuyi/marketChat/internal/wire"
)

// Channel is one live, bidirectional connection to a client surface.
// Send must not block: implementations enqueue and return an error when the
// channel is closed or cannot keep up.
type Channel interface {
	ID() string
	Send(frame any) error
}

// Registry maps user ids to their live channels. A user may hold several
// channels at once (tabs, devices). One Registry is owned by the server
// process and handed to whatever needs it.
type Registry struct {
	mu       sync.RWMutex
	channels map[int64]map[string]Channel
	owners   map[string]int64
	log      *slog.Logger
}

// New returns an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		channels: make(map[int64]map[string]Channel),
		owners:   make(map[string]int64),
		log:      log,
	}
}

// Authenticate binds ch to userID and acknowledges it with an authenticated
// frame. Calling it again rebinds: a channel belongs to at most one user.
// The acknowledgement is queued before any event for userID can reach ch.
func (r *Registry) Authenticate(ch Channel, userID int64) error {
	r.mu.Lock()
	if prev, ok := r.owners[ch.ID()]; ok && prev != userID {
		r.removeLocked(ch.ID(), prev)
	}
	conns, ok := r.channels[userID]
	if !ok {
		conns = make(map[string]Channel)
		r.channels[userID] = conns
	}
	conns[ch.ID()] = ch
	r.owners[ch.ID()] = userID
	err := ch.Send(wire.NewAuthenticated(userID))
	if err != nil {
		r.removeLocked(ch.ID(), userID)
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.log.Debug("channel authenticated", "channel", ch.ID(), "user", userID)
	return nil
}

// Deregister removes ch from every binding. It reports whether ch was bound.
func (r *Registry) Deregister(ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[ch.ID()]
	if !ok {
		return false
	}
	r.removeLocked(ch.ID(), userID)
	r.log.Debug("channel deregistered", "channel", ch.ID(), "user", userID)
	return true
}

func (r *Registry) removeLocked(channelID string, userID int64) {
	delete(r.owners, channelID)
	if conns, ok := r.channels[userID]; ok {
		delete(conns, channelID)
		if len(conns) == 0 {
			delete(r.channels, userID)
		}
	}
}

// Lookup returns a snapshot of the user's channels; it may be empty.
func (r *Registry) Lookup(userID int64) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.channels[userID]
	out := make([]Channel, 0, len(conns))
	for _, ch := range conns {
		out = append(out, ch)
	}
	return out
}

// UserOf returns the user ch is bound to.
func (r *Registry) UserOf(ch Channel) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[ch.ID()]
	return id, ok
}

// Push sends frame to every channel of userID and returns how many accepted
// it. Channels that fail are deregistered so a broken surface does not stay
// bound.
func (r *Registry) Push(userID int64, frame any) int {
	delivered := 0
	for _, ch := range r.Lookup(userID) {
		if err := ch.Send(frame); err != nil {
			r.log.Warn("push failed, dropping channel", "channel", ch.ID(), "user", userID, "error", err)
			r.Deregister(ch)
			continue
		}
		delivered++
	}
	return delivered
}

// Stats reports how many users and channels are currently bound.
func (r *Registry) Stats() (users, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels), len(r.owners)
}
