package data

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBadgerStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) (MessageStore, UserStore) {
		s := NewBadgerStore(openBadger(t))
		return s, s
	})
}

func TestBadgerStore_SurvivesReopenOfSameDB(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openBadger(t)

	first := NewBadgerStore(db)
	ids := seedUsers(t, first, 2)
	m, _, err := first.Append(ctx, text(ids[0], ids[1], nil, "persisted"))
	req.NoError(err)

	// a second store over the same database continues the sequence
	second := NewBadgerStore(db)
	next, _, err := second.Append(ctx, text(ids[1], ids[0], nil, "reply"))
	req.NoError(err)
	req.Equal(m.ID+1, next.ID)

	history, err := second.ListBetween(ctx, ids[0], ids[1], nil)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("persisted", history[0].Content)
}
