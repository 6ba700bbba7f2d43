package data

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Counters hands out integer ids from the "counters" collection.
type Counters struct {
	coll *mongo.Collection
}

// NewCounters returns a Counters backed by coll.
func NewCounters(coll *mongo.Collection) *Counters {
	return &Counters{coll: coll}
}

// Next atomically increments the named sequence and returns the new value.
// The first call for a name returns 1.
func (c *Counters) Next(ctx context.Context, name string) (int64, error) {
	// Upsert creates the counter document on first use; ReturnDocument(After)
	// gives us the incremented value in one round trip.
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := c.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", name, err)
	}
	return doc.Seq, nil
}
