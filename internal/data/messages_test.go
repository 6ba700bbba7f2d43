package data

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/db"
)

func TestMongoStores(t *testing.T) {
	// no env loader; require MONGODB_URI set externally for integration tests
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	runStoreContract(t, func(t *testing.T) (MessageStore, UserStore) {
		ctx := context.Background()

		// every subtest gets its own database so id sequences start at 1
		name := fmt.Sprintf("chat_test_%d", time.Now().UnixNano())
		c, err := db.New(ctx, uri, name)
		if err != nil {
			t.Fatalf("db.New failed: %v", err)
		}
		t.Cleanup(func() {
			_ = c.MessagesCollection().Database().Drop(context.Background())
			_ = c.Close(context.Background())
		})

		if err := c.CreateIndexes(ctx); err != nil {
			t.Fatalf("CreateIndexes failed: %v", err)
		}

		counters := NewCounters(c.CountersCollection())
		users := NewUsersStore(c.UsersCollection(), counters)
		return NewMessagesStore(c.MessagesCollection(), counters, users), users
	})
}
