package data

import (
	"context"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/normalize"
)

// MemoryStore keeps users and messages in process memory. It implements
// both MessageStore and UserStore and is used by tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]*User
	byEmail  map[string]int64
	messages []*Message
	lastUser int64
	lastAt   time.Time
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   map[int64]*User{},
		byEmail: map[string]int64{},
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, email, hashedPassword string) (*User, error) {
	email = normalize.Email(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrUserExists
	}
	s.lastUser++
	now := s.now().UTC()
	u := &User{ID: s.lastUser, Email: email, Password: hashedPassword, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalize.Email(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UserExists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *MemoryStore) Append(ctx context.Context, in NewMessage) (*Message, bool, error) {
	in, err := prepare(in)
	if err != nil {
		return nil, false, err
	}
	if err := checkParticipants(ctx, s, in); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ClientMessageID != "" {
		for _, m := range s.messages {
			if m.SenderID == in.SenderID && m.ClientMessageID == in.ClientMessageID {
				cp := *m
				return &cp, false, nil
			}
		}
	}

	at := s.now().UTC()
	if at.Before(s.lastAt) {
		at = s.lastAt
	}
	s.lastAt = at

	msg := &Message{
		ID:              int64(len(s.messages)) + 1,
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		ProductID:       copyProduct(in.ProductID),
		Content:         in.Content,
		MessageType:     in.MessageType,
		CreatedAt:       at,
		ClientMessageID: in.ClientMessageID,
	}
	s.messages = append(s.messages, msg)
	cp := *msg
	return &cp, true, nil
}

func (s *MemoryStore) ListBetween(_ context.Context, a, b int64, productID *int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Message{}
	for _, m := range s.messages {
		if inConversation(m, a, b, productID) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListConversationsFor(_ context.Context, userID int64) ([]*ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.messages, userID), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, counterpartID int64, productID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.SenderID == counterpartID && m.ReceiverID == userID && SameProduct(m.ProductID, productID) && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func copyProduct(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
