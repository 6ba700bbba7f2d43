package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection

	// ids allocates message ids from the counters collection
	ids *Counters

	// users is consulted to reject messages to or from unknown users
	users userLookup

	// mu serializes id allocation with the insert so that id order and
	// created_at order agree within this process
	mu     sync.Mutex
	lastAt time.Time
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection, ids *Counters, users userLookup) *MessagesStore {
	return &MessagesStore{coll: coll, ids: ids, users: users}
}

// Append validates and inserts a message, returning the persisted record.
func (m *MessagesStore) Append(ctx context.Context, in NewMessage) (*Message, bool, error) {
	in, err := prepare(in)
	if err != nil {
		return nil, false, err
	}
	if err := checkParticipants(ctx, m.users, in); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A retried send carries the same client id; hand back the original.
	if in.ClientMessageID != "" {
		existing, err := m.byClientID(ctx, in.SenderID, in.ClientMessageID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, err
		}
	}

	id, err := m.ids.Next(ctx, "messages")
	if err != nil {
		return nil, false, err
	}

	msg := &Message{
		ID:              id,
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		ProductID:       in.ProductID,
		Content:         in.Content,
		MessageType:     in.MessageType,
		IsRead:          false,
		CreatedAt:       m.stamp(),
		ClientMessageID: in.ClientMessageID,
	}

	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		// Another process won the race on the (sender, client id) index.
		if mongo.IsDuplicateKeyError(err) && in.ClientMessageID != "" {
			existing, ferr := m.byClientID(ctx, in.SenderID, in.ClientMessageID)
			if ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	return msg, true, nil
}

// stamp returns a created_at that never goes backwards. Mongo keeps
// millisecond precision, so we truncate here to return what is stored.
// Caller holds m.mu.
func (m *MessagesStore) stamp() time.Time {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if now.Before(m.lastAt) {
		now = m.lastAt
	}
	m.lastAt = now
	return now
}

func (m *MessagesStore) byClientID(ctx context.Context, senderID int64, clientID string) (*Message, error) {
	var msg Message
	err := m.coll.FindOne(ctx, bson.D{
		{Key: "sender_id", Value: senderID},
		{Key: "client_message_id", Value: clientID},
	}).Decode(&msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// conversationFilter matches both directions of the (a, b) pair. A nil
// productID matches documents whose product_id is null, i.e. the unscoped
// conversation.
func conversationFilter(a, b int64, productID *int64) bson.D {
	return bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "sender_id", Value: a}, {Key: "receiver_id", Value: b}},
			bson.D{{Key: "sender_id", Value: b}, {Key: "receiver_id", Value: a}},
		}},
		{Key: "product_id", Value: productID},
	}
}

// ListBetween returns the full conversation ordered oldest→newest.
func (m *MessagesStore) ListBetween(ctx context.Context, a, b int64, productID *int64) ([]*Message, error) {
	// ids are allocated in insert order, so sorting on _id is chronological
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, conversationFilter(a, b, productID), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// conversationRow is the shape produced by the $group stage below.
type conversationRow struct {
	ID struct {
		Counterpart int64  `bson:"counterpart"`
		ProductID   *int64 `bson:"product_id"`
	} `bson:"_id"`
	Last   Message `bson:"last"`
	Unread int64   `bson:"unread"`
}

// ListConversationsFor aggregates the user's conversations with the last
// message and unread count of each.
func (m *MessagesStore) ListConversationsFor(ctx context.Context, userID int64) ([]*ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		// Stage 1: every message the user sent or received
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "sender_id", Value: userID}},
				bson.D{{Key: "receiver_id", Value: userID}},
			}},
		}}},

		// Stage 2: oldest first so $last picks the newest message per group
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},

		// Stage 3: group by (counterpart, product)
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				// counterpart is whichever side is not the user
				{Key: "counterpart", Value: bson.D{
					{Key: "$cond", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$sender_id", userID}}},
						"$receiver_id",
						"$sender_id",
					}},
				}},
				{Key: "product_id", Value: "$product_id"},
			}},
			{Key: "last", Value: bson.D{{Key: "$last", Value: "$$ROOT"}}},
			// unread counts only messages addressed to the user
			{Key: "unread", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$and", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$receiver_id", userID}}},
						bson.D{{Key: "$eq", Value: bson.A{"$is_read", false}}},
					}}},
					1,
					0,
				}},
			}}}},
		}}},

		// Stage 4: most recently active conversation first
		bson.D{{Key: "$sort", Value: bson.D{{Key: "last._id", Value: -1}}}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []conversationRow
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	summaries := make([]*ConversationSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, &ConversationSummary{
			CounterpartID: r.ID.Counterpart,
			ProductID:     r.ID.ProductID,
			LastMessage:   r.Last,
			UnreadCount:   r.Unread,
		})
	}
	return summaries, nil
}

// MarkRead flips is_read for unread messages from counterpartID to userID.
// Running it twice is harmless: the second call matches nothing.
func (m *MessagesStore) MarkRead(ctx context.Context, userID, counterpartID int64, productID *int64) (int64, error) {
	filter := bson.D{
		{Key: "sender_id", Value: counterpartID},
		{Key: "receiver_id", Value: userID},
		{Key: "product_id", Value: productID},
		{Key: "is_read", Value: false},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "is_read", Value: true}}}}

	res, err := m.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
