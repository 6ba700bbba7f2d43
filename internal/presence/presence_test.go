package presence

import (
	"log/slog"
	"testing"

	"github.com/PaulBabatuyi/marketChat/internal/registry"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type nopChannel string

func (c nopChannel) ID() string { return string(c) }
func (nopChannel) Send(any) error { return nil }

func TestTracker_FollowsRegistryOccupancy(t *testing.T) {
	req := require.New(t)
	reg := registry.New(logs.GetLoggerFromLevel(slog.LevelDebug))
	tr := NewTracker(reg)

	req.False(tr.IsOnline(1))

	tab1, tab2 := nopChannel("tab1"), nopChannel("tab2")
	req.NoError(reg.Authenticate(tab1, 1))
	req.NoError(reg.Authenticate(tab2, 1))
	req.True(tr.IsOnline(1))

	reg.Deregister(tab1)
	req.True(tr.IsOnline(1))

	reg.Deregister(tab2)
	req.False(tr.IsOnline(1))
}
