// Package client is the per-surface side of the chat channel: it keeps one
// WebSocket open, re-authenticates after reconnects, queues sends while the
// channel is down and merges server events into a local View.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/normalize"
	"github.com/PaulBabatuyi/marketChat/internal/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// State is the lifecycle phase of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrQueueFull = errors.New("outbound queue full")
	ErrClosed    = errors.New("session closed")
	// ErrRejected is returned by Wait when the server refused the
	// authenticate frame. The session does not retry.
	ErrRejected = errors.New("authentication rejected")
)

const writeWait = 10 * time.Second

// Config describes how to reach the server and who we are.
type Config struct {
	URL    string // ws:// or wss:// address of the /ws endpoint
	UserID int64
	Token  string
	// QueueSize bounds unconfirmed sends, queued or in flight. Defaults to 64.
	QueueSize int
	Dialer    *websocket.Dialer
	// NewBackOff builds the reconnect policy. Defaults to an exponential
	// backoff that never gives up.
	NewBackOff func() backoff.BackOff
	Log        *slog.Logger
}

// EventKind tags what an Event reports.
type EventKind int

const (
	EventState EventKind = iota
	EventFrame
)

// Event is emitted to the UI after the view has absorbed it.
type Event struct {
	Kind  EventKind
	State State
	Frame wire.Inbound
}

// Snapshot is a consistent copy of the session's view.
type Snapshot struct {
	State          State
	Conversations  []Conversation
	HasNewMessages bool
	Pending        int
	Queued         int
}

type inbound struct {
	gen   int
	frame wire.Inbound
}

type dialResult struct {
	gen  int
	conn *websocket.Conn
	err  error
}

// Session owns one logical channel to the server. All state lives on the
// goroutine started by Start; the exported methods post work to it.
type Session struct {
	cfg    Config
	log    *slog.Logger
	cmds   chan func()
	events chan Event
	done   chan struct{}
	err    error

	// loop-owned
	state   State
	view    *View
	bo      backoff.BackOff
	conn    *websocket.Conn
	gen     int
	queue   []wire.SendMessage
	pending []wire.SendMessage
	closing bool
}

// New builds a Session. Call Start to run it.
func New(cfg Config) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		log:    log.With("user", cfg.UserID),
		cmds:   make(chan func()),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		view:   NewView(cfg.UserID),
	}
}

// Events delivers state changes and merged frames. Events are dropped when
// the consumer falls behind; Snapshot is always authoritative.
func (s *Session) Events() <-chan Event { return s.events }

// Start runs the session loop until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Close stops the loop and closes the connection.
func (s *Session) Close() {
	_ = s.do(func() { s.closing = true })
	<-s.done
}

// Wait blocks until the loop exits and returns why it stopped.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// do runs fn on the loop goroutine.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
		<-ran
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Send validates and submits a message and returns its clientMessageId.
// Delivery is asynchronous: a message_sent event with the same id confirms
// it, an error event with the same id rejects it.
func (s *Session) Send(content string, typ data.MessageType, receiverID int64, productID *int64) (string, error) {
	content = normalize.Content(content)
	if typ == "" {
		typ = data.MessageTypeText
	}
	switch {
	case content == "":
		return "", &data.ValidationError{Field: "content", Reason: "empty"}
	case receiverID <= 0:
		return "", &data.ValidationError{Field: "receiverId", Reason: "missing"}
	case receiverID == s.cfg.UserID:
		return "", &data.ValidationError{Field: "receiverId", Reason: "cannot message yourself"}
	case !typ.Valid():
		return "", &data.ValidationError{Field: "messageType", Reason: "unknown type " + string(typ)}
	}

	frame := wire.SendMessage{
		Type:            wire.TypeSendMessage,
		ReceiverID:      receiverID,
		ProductID:       cloneID(productID),
		Content:         content,
		MessageType:     typ,
		ClientMessageID: uuid.NewString(),
	}
	var err error
	if doErr := s.do(func() { err = s.submit(frame) }); doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", err
	}
	return frame.ClientMessageID, nil
}

// Snapshot returns a copy of the current view.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		snap = Snapshot{
			State:          s.state,
			Conversations:  s.view.Conversations(),
			HasNewMessages: s.view.HasNewMessages(),
			Pending:        len(s.pending),
			Queued:         len(s.queue),
		}
	})
	return snap, err
}

// Reconcile merges pulled conversation summaries into the view.
func (s *Session) Reconcile(summaries []*data.ConversationSummary) error {
	return s.do(func() { s.view.Reconcile(summaries) })
}

// LoadHistory merges a pulled conversation into the view.
func (s *Session) LoadHistory(counterpart int64, productID *int64, msgs []*data.Message) error {
	return s.do(func() { s.view.LoadHistory(counterpart, productID, msgs) })
}

// MarkedRead applies a successful markRead to the view.
func (s *Session) MarkedRead(counterpart int64, productID *int64) error {
	return s.do(func() { s.view.MarkRead(counterpart, productID) })
}

func (s *Session) loop(ctx context.Context) {
	frames := make(chan inbound)
	lost := make(chan int)
	dialed := make(chan dialResult)
	var retry <-chan time.Time

	s.bo = s.cfg.NewBackOff()
	s.connect(ctx, dialed)

	defer func() {
		s.dropConn()
		s.setState(Disconnected)
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			s.err = ctx.Err()
			return

		case fn := <-s.cmds:
			fn()
			if s.closing {
				s.err = ErrClosed
				return
			}

		case r := <-dialed:
			if r.gen != s.gen {
				if r.conn != nil {
					_ = r.conn.Close()
				}
				continue
			}
			if r.err != nil {
				s.log.Debug("dial failed", "error", r.err)
				retry = s.scheduleRetry()
				continue
			}
			s.conn = r.conn
			go s.read(r.conn, r.gen, frames, lost)
			s.setState(Authenticating)
			if err := s.write(wire.Authenticate{Type: wire.TypeAuthenticate, UserID: s.cfg.UserID, Token: s.cfg.Token}); err != nil {
				s.dropConn()
				retry = s.scheduleRetry()
			}

		case in := <-frames:
			if in.gen != s.gen {
				continue
			}
			if rejected := s.handle(in.frame); rejected {
				s.err = ErrRejected
				return
			}

		case gen := <-lost:
			if gen != s.gen || s.conn == nil {
				continue
			}
			s.log.Debug("connection lost")
			s.dropConn()
			retry = s.scheduleRetry()

		case <-retry:
			retry = nil
			s.connect(ctx, dialed)
		}
	}
}

// connect starts a dial for a new connection generation.
func (s *Session) connect(ctx context.Context, dialed chan<- dialResult) {
	s.gen++
	gen := s.gen
	s.setState(Connecting)
	go func() {
		conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, http.Header{})
		select {
		case dialed <- dialResult{gen: gen, conn: conn, err: err}:
		case <-s.done:
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (s *Session) scheduleRetry() <-chan time.Time {
	s.setState(Disconnected)
	d := s.bo.NextBackOff()
	if d == backoff.Stop {
		d = time.Minute
	}
	s.log.Debug("reconnecting", "in", d)
	return time.After(d)
}

func (s *Session) dropConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	// Frames still in flight from the old reader are ignored.
	s.gen++
}

// read forwards frames from conn until it fails.
func (s *Session) read(conn *websocket.Conn, gen int, frames chan<- inbound, lost chan<- int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case lost <- gen:
			case <-s.done:
			}
			return
		}
		in, err := wire.DecodeInbound(raw)
		if err != nil {
			s.log.Warn("dropping frame", "error", err)
			continue
		}
		select {
		case frames <- inbound{gen: gen, frame: in}:
		case <-s.done:
			return
		}
	}
}

// handle applies a frame. It reports true when the server rejected our
// identity.
func (s *Session) handle(in wire.Inbound) bool {
	switch in.Type {
	case wire.TypeAuthenticated:
		s.setState(Ready)
		s.bo.Reset()
		s.flush()
	case wire.TypeMessageSent:
		s.settle(in.ClientMessageID)
	case wire.TypeError:
		if s.state == Authenticating && in.Error.Code == wire.CodeUnauthenticated {
			s.log.Warn("authentication rejected", "reason", in.Error.Message)
			s.emit(Event{Kind: EventFrame, State: s.state, Frame: in})
			return true
		}
		s.settle(in.ClientMessageID)
	}
	s.view.Apply(in)
	s.emit(Event{Kind: EventFrame, State: s.state, Frame: in})
	return false
}

// submit writes frame now when Ready, otherwise queues it. Queued and
// unconfirmed frames together never exceed QueueSize.
func (s *Session) submit(frame wire.SendMessage) error {
	if len(s.pending)+len(s.queue) >= s.cfg.QueueSize {
		return ErrQueueFull
	}
	if s.state != Ready {
		s.queue = append(s.queue, frame)
		return nil
	}
	s.pending = append(s.pending, frame)
	if err := s.write(frame); err != nil {
		// The reader will notice the broken connection; the frame is
		// replayed from pending after re-authentication.
		s.log.Debug("send deferred", "client_message_id", frame.ClientMessageID, "error", err)
	}
	return nil
}

// flush replays unconfirmed frames, then drains the queue, in submission
// order. The server ignores replays it already stored.
func (s *Session) flush() {
	replay := append(s.pending, s.queue...)
	s.pending, s.queue = nil, nil
	for _, f := range replay {
		s.pending = append(s.pending, f)
		if err := s.write(f); err != nil {
			s.log.Debug("flush interrupted", "error", err)
		}
	}
}

func (s *Session) settle(clientMessageID string) {
	if clientMessageID == "" {
		return
	}
	s.pending = lo.Reject(s.pending, func(f wire.SendMessage, _ int) bool {
		return f.ClientMessageID == clientMessageID
	})
}

func (s *Session) write(frame any) error {
	if s.conn == nil {
		return ErrClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame)
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.emit(Event{Kind: EventState, State: st})
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event dropped, consumer too slow", "kind", ev.Kind)
	}
}
