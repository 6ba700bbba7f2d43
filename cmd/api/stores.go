package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/db"
	"github.com/dgraph-io/badger/v4"
)

// stores bundles the selected driver with whatever must be closed on exit.
type stores struct {
	users data.UserStore
	msgs  data.MessageStore
	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

func openStores(ctx context.Context, cfg Config, log *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "mongo":
		client, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		if err := client.CreateIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		ids := data.NewCounters(client.CountersCollection())
		users := data.NewUsersStore(client.UsersCollection(), ids)
		log.Info("using MongoDB store", "database", cfg.MongoDatabase)
		return &stores{
			users: users,
			msgs:  data.NewMessagesStore(client.MessagesCollection(), ids, users),
			ping:  client.Ping,
			close: client.Close,
		}, nil

	case "badger":
		bdb, err := badger.Open(badger.DefaultOptions(cfg.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		store := data.NewBadgerStore(bdb)
		log.Info("using BadgerDB store", "path", cfg.BadgerFilepath)
		return &stores{
			users: store,
			msgs:  store,
			ping:  func(context.Context) error { return nil },
			close: func(context.Context) error { return bdb.Close() },
		}, nil

	default:
		store := data.NewMemoryStore()
		log.Warn("using in-memory store, data is lost on exit")
		return &stores{
			users: store,
			msgs:  store,
			ping:  func(context.Context) error { return nil },
			close: func(context.Context) error { return nil },
		}, nil
	}
}
