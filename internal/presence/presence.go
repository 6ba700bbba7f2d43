// Package presence derives online/offline state from the connection
// registry. A connected but unresponsive surface still counts as online.
package presence

import "github.com/PaulBabatuyi/marketChat/internal/registry"

// Tracker answers presence queries.
type Tracker struct {
	reg *registry.Registry
}

func NewTracker(reg *registry.Registry) *Tracker {
	return &Tracker{reg: reg}
}

// IsOnline reports whether userID has at least one live channel.
func (t *Tracker) IsOnline(userID int64) bool {
	return len(t.reg.Lookup(userID)) > 0
}
