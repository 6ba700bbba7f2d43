package data

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/normalize"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// Key layout. Ids are zero padded to 19 digits so that lexicographic key
// order is id order and a prefix scan returns messages oldest first.
const (
	msgPrefix     = "msg:"
	userPrefix    = "user:"
	emailPrefix   = "email:"
	clientPrefix  = "client:"
	seqMessageKey = "seq:message"
	seqUserKey    = "seq:user"
)

func msgKey(id int64) []byte  { return []byte(fmt.Sprintf("%s%019d", msgPrefix, id)) }
func userKey(id int64) []byte { return []byte(fmt.Sprintf("%s%019d", userPrefix, id)) }
func emailKey(e string) []byte {
	return []byte(emailPrefix + e)
}
func clientKey(senderID int64, clientID string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", clientPrefix, senderID, clientID))
}

// messageRecord is the CBOR value stored under msg:<id>.
type messageRecord struct {
	ID              int64  `cbor:"id"`
	SenderID        int64  `cbor:"sender_id"`
	ReceiverID      int64  `cbor:"receiver_id"`
	ProductID       *int64 `cbor:"product_id"`
	Content         string `cbor:"content"`
	MessageType     string `cbor:"message_type"`
	IsRead          bool   `cbor:"is_read"`
	CreatedAt       int64  `cbor:"created_at"`
	ClientMessageID string `cbor:"client_message_id,omitempty"`
}

func fromMessage(m *Message) messageRecord {
	return messageRecord{
		ID:              m.ID,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		ProductID:       m.ProductID,
		Content:         m.Content,
		MessageType:     string(m.MessageType),
		IsRead:          m.IsRead,
		CreatedAt:       m.CreatedAt.UnixNano(),
		ClientMessageID: m.ClientMessageID,
	}
}

func (r messageRecord) toMessage() *Message {
	return &Message{
		ID:              r.ID,
		SenderID:        r.SenderID,
		ReceiverID:      r.ReceiverID,
		ProductID:       r.ProductID,
		Content:         r.Content,
		MessageType:     MessageType(r.MessageType),
		IsRead:          r.IsRead,
		CreatedAt:       time.Unix(0, r.CreatedAt).UTC(),
		ClientMessageID: r.ClientMessageID,
	}
}

type userRecord struct {
	ID        int64  `cbor:"id"`
	Email     string `cbor:"email"`
	Password  string `cbor:"password"`
	CreatedAt int64  `cbor:"created_at"`
	UpdatedAt int64  `cbor:"updated_at"`
}

func (r userRecord) toUser() *User {
	return &User{
		ID:        r.ID,
		Email:     r.Email,
		Password:  r.Password,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// BadgerStore is the embedded driver: users and messages in one BadgerDB,
// values CBOR encoded. Conversations are computed by scanning msg: keys.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	lastAt time.Time
}

// NewBadgerStore wraps an open database. The caller owns db and closes it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// update retries fn when a concurrent transaction touched the same keys.
// MarkRead relies on this to stay safe under concurrent callers.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// nextSeq increments the big-endian counter stored under key.
func nextSeq(txn *badger.Txn, key string) (int64, error) {
	var cur uint64
	item, err := txn.Get([]byte(key))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		val, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		cur = binary.BigEndian.Uint64(val)
	}
	cur++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, cur)
	return int64(cur), txn.Set([]byte(key), buf)
}

func readID(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func idBytes(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func getCBOR(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return cbor.Unmarshal(val, v) })
}

func (s *BadgerStore) CreateUser(_ context.Context, email, hashedPassword string) (*User, error) {
	email = normalize.Email(email)
	var rec userRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(emailKey(email)); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		id, err := nextSeq(txn, seqUserKey)
		if err != nil {
			return err
		}
		now := time.Now().UTC().UnixNano()
		rec = userRecord{ID: id, Email: email, Password: hashedPassword, CreatedAt: now, UpdatedAt: now}
		val, err := cbor.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(userKey(id), val); err != nil {
			return err
		}
		return txn.Set(emailKey(email), idBytes(id))
	})
	if err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

func (s *BadgerStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		id, err = readID(txn, emailKey(normalize.Email(email)))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *BadgerStore) GetUserByID(_ context.Context, id int64) (*User, error) {
	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error { return getCBOR(txn, userKey(id), &rec) })
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toUser(), nil
}

func (s *BadgerStore) UserExists(_ context.Context, id int64) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) Append(ctx context.Context, in NewMessage) (*Message, bool, error) {
	in, err := prepare(in)
	if err != nil {
		return nil, false, err
	}
	if err := checkParticipants(ctx, s, in); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		msg     *Message
		created bool
	)
	err = s.db.Update(func(txn *badger.Txn) error {
		if in.ClientMessageID != "" {
			id, err := readID(txn, clientKey(in.SenderID, in.ClientMessageID))
			if err == nil {
				var rec messageRecord
				if err := getCBOR(txn, msgKey(id), &rec); err != nil {
					return err
				}
				msg = rec.toMessage()
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		id, err := nextSeq(txn, seqMessageKey)
		if err != nil {
			return err
		}
		m := &Message{
			ID:              id,
			SenderID:        in.SenderID,
			ReceiverID:      in.ReceiverID,
			ProductID:       in.ProductID,
			Content:         in.Content,
			MessageType:     in.MessageType,
			CreatedAt:       s.stamp(),
			ClientMessageID: in.ClientMessageID,
		}
		val, err := cbor.Marshal(fromMessage(m))
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(id), val); err != nil {
			return err
		}
		if in.ClientMessageID != "" {
			if err := txn.Set(clientKey(in.SenderID, in.ClientMessageID), idBytes(id)); err != nil {
				return err
			}
		}
		msg, created = m, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("append message: %w", err)
	}
	return msg, created, nil
}

// stamp is called with s.mu held.
func (s *BadgerStore) stamp() time.Time {
	now := time.Now().UTC()
	if now.Before(s.lastAt) {
		now = s.lastAt
	}
	s.lastAt = now
	return now
}

// scan decodes every message for which keep returns true, in id order.
func scan(txn *badger.Txn, keep func(*Message) bool) ([]*Message, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(msgPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	out := []*Message{}
	for it.Rewind(); it.Valid(); it.Next() {
		var rec messageRecord
		if err := it.Item().Value(func(val []byte) error { return cbor.Unmarshal(val, &rec) }); err != nil {
			return nil, err
		}
		if m := rec.toMessage(); keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *BadgerStore) ListBetween(_ context.Context, a, b int64, productID *int64) ([]*Message, error) {
	var out []*Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scan(txn, func(m *Message) bool { return inConversation(m, a, b, productID) })
		return err
	})
	return out, err
}

func (s *BadgerStore) ListConversationsFor(_ context.Context, userID int64) ([]*ConversationSummary, error) {
	var msgs []*Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msgs, err = scan(txn, func(m *Message) bool { return m.SenderID == userID || m.ReceiverID == userID })
		return err
	})
	if err != nil {
		return nil, err
	}
	return summarize(msgs, userID), nil
}

func (s *BadgerStore) MarkRead(_ context.Context, userID, counterpartID int64, productID *int64) (int64, error) {
	var n int64
	err := s.update(func(txn *badger.Txn) error {
		unread, err := scan(txn, func(m *Message) bool {
			return m.SenderID == counterpartID && m.ReceiverID == userID &&
				SameProduct(m.ProductID, productID) && !m.IsRead
		})
		if err != nil {
			return err
		}
		// The iterator is closed by now; writes happen after the scan.
		for _, m := range unread {
			m.IsRead = true
			val, err := cbor.Marshal(fromMessage(m))
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(m.ID), val); err != nil {
				return err
			}
		}
		n = int64(len(unread))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
