package data

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// storeFactory returns a fresh, empty store pair for one subtest.
type storeFactory func(t *testing.T) (MessageStore, UserStore)

// seedUsers registers n users and returns their ids in creation order.
func seedUsers(t *testing.T, users UserStore, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		u, err := users.CreateUser(context.Background(), fmt.Sprintf("user%d@example.com", i), "hash")
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return ids
}

func text(from, to int64, product *int64, content string) NewMessage {
	return NewMessage{SenderID: from, ReceiverID: to, ProductID: product, Content: content, MessageType: MessageTypeText}
}

// runStoreContract checks the behaviour every driver must share.
func runStoreContract(t *testing.T, newStores storeFactory) {
	ctx := context.Background()

	t.Run("ids increase and createdAt never decreases", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 2)

		var prev *Message
		for i := 0; i < 20; i++ {
			m, created, err := msgs.Append(ctx, text(ids[i%2], ids[(i+1)%2], nil, fmt.Sprintf("m%d", i)))
			req.NoError(err)
			req.True(created)
			req.False(m.IsRead)
			if prev != nil {
				req.Greater(m.ID, prev.ID)
				req.False(m.CreatedAt.Before(prev.CreatedAt))
			}
			prev = m
		}
	})

	t.Run("concurrent appends get unique ids", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 2)

		const writers = 16
		var wg sync.WaitGroup
		got := make(chan int64, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m, _, err := msgs.Append(ctx, text(ids[0], ids[1], nil, fmt.Sprintf("w%d", i)))
				if err == nil {
					got <- m.ID
				}
			}(i)
		}
		wg.Wait()
		close(got)

		seen := map[int64]bool{}
		for id := range got {
			req.False(seen[id], "id %d assigned twice", id)
			seen[id] = true
		}
		req.Len(seen, writers)

		history, err := msgs.ListBetween(ctx, ids[0], ids[1], nil)
		req.NoError(err)
		req.Len(history, writers)
		for i := 1; i < len(history); i++ {
			req.Greater(history[i].ID, history[i-1].ID)
			req.False(history[i].CreatedAt.Before(history[i-1].CreatedAt))
		}
	})

	t.Run("invalid sends are rejected without persistence", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 2)

		cases := map[string]NewMessage{
			"empty content":    text(ids[0], ids[1], nil, "   "),
			"missing receiver": text(ids[0], 0, nil, "hi"),
			"self send":        text(ids[0], ids[0], nil, "hi"),
			"unknown receiver": text(ids[0], 9999, nil, "hi"),
			"unknown type":     {SenderID: ids[0], ReceiverID: ids[1], Content: "hi", MessageType: "video"},
		}
		for name, in := range cases {
			_, _, err := msgs.Append(ctx, in)
			req.ErrorIs(err, ErrValidation, name)
		}

		history, err := msgs.ListBetween(ctx, ids[0], ids[1], nil)
		req.NoError(err)
		req.Empty(history)
	})

	t.Run("listBetween is symmetric", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 3)
		p := lo.ToPtr(int64(7))

		_, _, err := msgs.Append(ctx, text(ids[0], ids[1], p, "a->b"))
		req.NoError(err)
		_, _, err = msgs.Append(ctx, text(ids[1], ids[0], p, "b->a"))
		req.NoError(err)
		_, _, err = msgs.Append(ctx, text(ids[0], ids[2], p, "a->c"))
		req.NoError(err)
		_, _, err = msgs.Append(ctx, text(ids[0], ids[1], nil, "unscoped"))
		req.NoError(err)

		ab, err := msgs.ListBetween(ctx, ids[0], ids[1], p)
		req.NoError(err)
		ba, err := msgs.ListBetween(ctx, ids[1], ids[0], p)
		req.NoError(err)
		req.Len(ab, 2)
		req.ElementsMatch(ab, ba)

		unscoped, err := msgs.ListBetween(ctx, ids[1], ids[0], nil)
		req.NoError(err)
		req.Len(unscoped, 1)
		req.Equal("unscoped", unscoped[0].Content)
	})

	t.Run("markRead is idempotent", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 2)
		p := lo.ToPtr(int64(7))

		for i := 0; i < 3; i++ {
			_, _, err := msgs.Append(ctx, text(ids[0], ids[1], p, "ping"))
			req.NoError(err)
		}

		n, err := msgs.MarkRead(ctx, ids[1], ids[0], p)
		req.NoError(err)
		req.EqualValues(3, n)

		before, err := msgs.ListBetween(ctx, ids[0], ids[1], p)
		req.NoError(err)

		n, err = msgs.MarkRead(ctx, ids[1], ids[0], p)
		req.NoError(err)
		req.Zero(n)

		after, err := msgs.ListBetween(ctx, ids[0], ids[1], p)
		req.NoError(err)
		req.Equal(before, after)
		for _, m := range after {
			req.True(m.IsRead)
		}
	})

	t.Run("offline receiver reconciles through summaries", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 2)

		_, _, err := msgs.Append(ctx, text(ids[0], ids[1], nil, "hi"))
		req.NoError(err)

		summaries, err := msgs.ListConversationsFor(ctx, ids[1])
		req.NoError(err)
		req.Len(summaries, 1)
		req.Equal(ids[0], summaries[0].CounterpartID)
		req.GreaterOrEqual(summaries[0].UnreadCount, int64(1))
		req.Equal("hi", summaries[0].LastMessage.Content)

		// the sender has nothing unread in the same conversation
		mine, err := msgs.ListConversationsFor(ctx, ids[0])
		req.NoError(err)
		req.Len(mine, 1)
		req.Zero(mine[0].UnreadCount)
	})

	t.Run("product scoped conversation", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 4)

		// 100 unrelated messages so the next id is 101
		for i := 0; i < 100; i++ {
			_, _, err := msgs.Append(ctx, text(ids[2], ids[3], nil, "filler"))
			req.NoError(err)
		}

		p := lo.ToPtr(int64(7))
		m, _, err := msgs.Append(ctx, text(ids[0], ids[1], p, "Is this available?"))
		req.NoError(err)
		req.EqualValues(101, m.ID)
		req.False(m.IsRead)

		history, err := msgs.ListBetween(ctx, ids[0], ids[1], p)
		req.NoError(err)
		req.Len(history, 1)
		req.EqualValues(101, history[0].ID)
		req.Equal("Is this available?", history[0].Content)

		_, err = msgs.MarkRead(ctx, ids[1], ids[0], p)
		req.NoError(err)

		summaries, err := msgs.ListConversationsFor(ctx, ids[1])
		req.NoError(err)
		req.Len(summaries, 1)
		req.Equal(ids[0], summaries[0].CounterpartID)
		req.NotNil(summaries[0].ProductID)
		req.EqualValues(7, *summaries[0].ProductID)
		req.Zero(summaries[0].UnreadCount)
	})

	t.Run("client message id deduplicates", func(t *testing.T) {
		req := require.New(t)
		msgs, users := newStores(t)
		ids := seedUsers(t, users, 2)

		in := text(ids[0], ids[1], nil, "once")
		in.ClientMessageID = "c-1"

		first, created, err := msgs.Append(ctx, in)
		req.NoError(err)
		req.True(created)

		again, created, err := msgs.Append(ctx, in)
		req.NoError(err)
		req.False(created)
		req.Equal(first.ID, again.ID)

		history, err := msgs.ListBetween(ctx, ids[0], ids[1], nil)
		req.NoError(err)
		req.Len(history, 1)
	})

	t.Run("users", func(t *testing.T) {
		req := require.New(t)
		_, users := newStores(t)

		u, err := users.CreateUser(ctx, "  Vendor@Example.COM ", "hash")
		req.NoError(err)
		req.Equal("vendor@example.com", u.Email)

		_, err = users.CreateUser(ctx, "vendor@example.com", "hash")
		req.ErrorIs(err, ErrUserExists)

		byEmail, err := users.GetUserByEmail(ctx, "VENDOR@example.com")
		req.NoError(err)
		req.Equal(u.ID, byEmail.ID)

		byID, err := users.GetUserByID(ctx, u.ID)
		req.NoError(err)
		req.Equal(u.Email, byID.Email)

		ok, err := users.UserExists(ctx, u.ID)
		req.NoError(err)
		req.True(ok)

		_, err = users.GetUserByID(ctx, u.ID+100)
		req.ErrorIs(err, ErrUserNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) (MessageStore, UserStore) {
		s := NewMemoryStore()
		return s, s
	})
}
