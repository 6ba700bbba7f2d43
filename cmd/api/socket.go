package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	writeWait      = 10 * time.Second    // time allowed to write a frame to the peer
	pongWait       = 60 * time.Second    // time allowed to read the next pong from the peer
	pingInterval   = (pongWait * 9) / 10 // send pings with this period
	maxMessageSize = int64(64 * 1024)    // max inbound frame size
	frameTimeout   = 5 * time.Second     // store work done for a single frame
)

var (
	errChannelClosed = errors.New("channel closed")
	errEgressFull    = errors.New("egress buffer full")
)

// wsChannel is one WebSocket connection. Frames are queued on egress and
// written by a dedicated goroutine; a full queue closes the connection.
type wsChannel struct {
	id     string
	conn   *websocket.Conn
	egress chan any
	done   chan struct{}
	once   sync.Once
}

func newWSChannel(conn *websocket.Conn, size int) *wsChannel {
	return &wsChannel{
		id:     uuid.NewString(),
		conn:   conn,
		egress: make(chan any, size),
		done:   make(chan struct{}),
	}
}

func (c *wsChannel) ID() string { return c.id }

// Send never blocks.
func (c *wsChannel) Send(frame any) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}
	select {
	case c.egress <- frame:
		return nil
	case <-c.done:
		return errChannelClosed
	default:
		c.close()
		return errEgressFull
	}
}

func (c *wsChannel) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsChannel) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// serveWS upgrades the request and runs the read loop until the peer goes
// away. The channel stays unauthenticated until a valid authenticate frame
// arrives.
func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := newWSChannel(conn, s.egress)
	go ch.writeLoop()
	s.log.Debug("channel opened", "channel", ch.id, "remote", conn.RemoteAddr().String())

	defer func() {
		s.reg.Deregister(ch)
		ch.close()
		s.log.Debug("channel closed", "channel", ch.id)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			case errors.As(err, &ne) && ne.Timeout():
				s.log.Debug("channel timed out", "channel", ch.id)
			default:
				s.log.Debug("channel read failed", "channel", ch.id, "error", err)
			}
			return
		}
		s.handleFrame(ch, raw)
	}
}

func (s *Server) handleFrame(ch *wsChannel, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		_ = ch.Send(wire.NewError(wire.CodeBadFrame, "malformed frame", ""))
		return
	}

	switch env.Type {
	case wire.TypeAuthenticate:
		s.handleAuthenticate(ch, raw)
	case wire.TypeSendMessage:
		s.handleSend(ch, raw)
	default:
		_ = ch.Send(wire.NewError(wire.CodeBadFrame, fmt.Sprintf("unknown frame type %q", env.Type), ""))
	}
}

// handleAuthenticate binds the channel once the token proves the claimed
// identity, then sends the current notification snapshot.
func (s *Server) handleAuthenticate(ch *wsChannel, raw []byte) {
	var f wire.Authenticate
	if err := json.Unmarshal(raw, &f); err != nil {
		_ = ch.Send(wire.NewError(wire.CodeBadFrame, "malformed authenticate frame", ""))
		return
	}
	if err := s.validate.Struct(f); err != nil {
		_ = ch.Send(wire.NewError(wire.CodeValidation, err.Error(), ""))
		return
	}

	claims, err := s.auth.VerifyToken(f.Token)
	if err != nil || claims.UserID != f.UserID {
		s.log.Warn("authenticate rejected", "channel", ch.id, "claimed", f.UserID)
		_ = ch.Send(wire.NewError(wire.CodeUnauthenticated, "token does not match userId", ""))
		return
	}

	if err := s.reg.Authenticate(ch, f.UserID); err != nil {
		s.log.Warn("authenticate ack failed", "channel", ch.id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	if err := s.svc.SnapshotTo(ctx, ch, f.UserID); err != nil {
		s.log.Warn("unread snapshot failed", "user", f.UserID, "error", err)
	}
}

func (s *Server) handleSend(ch *wsChannel, raw []byte) {
	userID, ok := s.reg.UserOf(ch)
	if !ok {
		_ = ch.Send(wire.NewError(wire.CodeUnauthenticated, "authenticate first", ""))
		return
	}

	var f wire.SendMessage
	if err := json.Unmarshal(raw, &f); err != nil {
		_ = ch.Send(wire.NewError(wire.CodeBadFrame, "malformed send_message frame", ""))
		return
	}
	if err := s.validate.Struct(f); err != nil {
		_ = ch.Send(wire.NewError(wire.CodeValidation, err.Error(), f.ClientMessageID))
		return
	}
	if !s.sendRate.Allow(fmt.Sprintf("send:%d", userID)) {
		_ = ch.Send(wire.NewError(wire.CodeRateLimited, "rate limit exceeded", f.ClientMessageID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	_, err := s.svc.Send(ctx, data.NewMessage{
		SenderID:        userID,
		ReceiverID:      f.ReceiverID,
		ProductID:       f.ProductID,
		Content:         f.Body(),
		MessageType:     f.MessageType,
		ClientMessageID: f.ClientMessageID,
	})
	switch {
	case err == nil:
	case errors.Is(err, data.ErrValidation):
		_ = ch.Send(wire.NewError(wire.CodeValidation, err.Error(), f.ClientMessageID))
	default:
		s.log.Error("send failed", "user", userID, "error", err)
		_ = ch.Send(wire.NewError(wire.CodeInternal, "message not stored", f.ClientMessageID))
	}
}
