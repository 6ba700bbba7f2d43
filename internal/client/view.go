package client

import (
	"sort"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/wire"
	"github.com/samber/lo"
)

// ConversationKey identifies a conversation from the local user's side.
// Product is 0 for the unscoped conversation.
type ConversationKey struct {
	Counterpart int64
	Product     int64
}

func keyOf(counterpart int64, productID *int64) ConversationKey {
	return ConversationKey{Counterpart: counterpart, Product: lo.FromPtr(productID)}
}

// Conversation is the local copy of one conversation.
type Conversation struct {
	CounterpartID int64
	ProductID     *int64
	// Messages known locally, ordered by id. May be a suffix of the full
	// history until LoadHistory is applied.
	Messages []data.Message
	Unread   int64
}

// LastMessage returns the newest known message, if any.
func (c *Conversation) LastMessage() (data.Message, bool) {
	if len(c.Messages) == 0 {
		return data.Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// View is the merged client-side state. It is not safe for concurrent use;
// a Session only touches it from its loop goroutine.
type View struct {
	me             int64
	conversations  map[ConversationKey]*Conversation
	hasNewMessages bool
}

func NewView(me int64) *View {
	return &View{me: me, conversations: map[ConversationKey]*Conversation{}}
}

// HasNewMessages is the badge state.
func (v *View) HasNewMessages() bool { return v.hasNewMessages }

func (v *View) conversation(k ConversationKey, productID *int64) *Conversation {
	c, ok := v.conversations[k]
	if !ok {
		c = &Conversation{CounterpartID: k.Counterpart, ProductID: cloneID(productID)}
		v.conversations[k] = c
	}
	return c
}

// Apply merges a server frame. It reports whether the view changed.
func (v *View) Apply(in wire.Inbound) bool {
	switch in.Type {
	case wire.TypeNewMessage:
		m := *in.Message
		if !v.insert(m) {
			return false
		}
		if m.ReceiverID == v.me && !m.IsRead {
			v.conversation(v.keyFor(m), m.ProductID).Unread++
			v.hasNewMessages = true
		}
		return true
	case wire.TypeMessageSent:
		return v.insert(*in.Message)
	case wire.TypeNotificationUpdate:
		changed := v.hasNewMessages != in.HasNewMessages
		v.hasNewMessages = in.HasNewMessages
		return changed
	}
	return false
}

func (v *View) keyFor(m data.Message) ConversationKey {
	counterpart := m.SenderID
	if m.SenderID == v.me {
		counterpart = m.ReceiverID
	}
	return keyOf(counterpart, m.ProductID)
}

// insert adds m in id order and reports false if it was already known.
func (v *View) insert(m data.Message) bool {
	c := v.conversation(v.keyFor(m), m.ProductID)
	i := sort.Search(len(c.Messages), func(i int) bool { return c.Messages[i].ID >= m.ID })
	if i < len(c.Messages) && c.Messages[i].ID == m.ID {
		return false
	}
	c.Messages = append(c.Messages, data.Message{})
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = m
	return true
}

// Reconcile replaces unread counts with the server's summaries and makes
// sure each conversation knows its last message. Used after (re)connecting
// to catch up on anything pushed while offline.
func (v *View) Reconcile(summaries []*data.ConversationSummary) {
	for _, s := range summaries {
		k := keyOf(s.CounterpartID, s.ProductID)
		v.insert(s.LastMessage)
		v.conversation(k, s.ProductID).Unread = s.UnreadCount
	}
	v.hasNewMessages = lo.SomeBy(summaries, func(s *data.ConversationSummary) bool { return s.UnreadCount > 0 })
}

// LoadHistory merges a pulled conversation history.
func (v *View) LoadHistory(counterpart int64, productID *int64, msgs []*data.Message) {
	c := v.conversation(keyOf(counterpart, productID), productID)
	for _, m := range msgs {
		v.insert(*m)
	}
	c.Unread = int64(lo.CountBy(c.Messages, func(m data.Message) bool { return m.ReceiverID == v.me && !m.IsRead }))
	v.recomputeBadge()
}

// MarkRead records that the conversation was read locally.
func (v *View) MarkRead(counterpart int64, productID *int64) {
	c, ok := v.conversations[keyOf(counterpart, productID)]
	if !ok {
		return
	}
	for i := range c.Messages {
		if c.Messages[i].ReceiverID == v.me {
			c.Messages[i].IsRead = true
		}
	}
	c.Unread = 0
	v.recomputeBadge()
}

func (v *View) recomputeBadge() {
	v.hasNewMessages = lo.SomeBy(lo.Values(v.conversations), func(c *Conversation) bool { return c.Unread > 0 })
}

// Conversations returns deep copies, most recently active first.
func (v *View) Conversations() []Conversation {
	out := make([]Conversation, 0, len(v.conversations))
	for _, c := range v.conversations {
		cp := *c
		cp.ProductID = cloneID(c.ProductID)
		cp.Messages = append([]data.Message(nil), c.Messages...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		li, _ := out[i].LastMessage()
		lj, _ := out[j].LastMessage()
		return li.ID > lj.ID
	})
	return out
}

func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	id := *p
	return &id
}
