package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testSocket struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSocket(t *testing.T, ts *httptest.Server) *testSocket {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testSocket{t: t, conn: conn}
}

func (s *testSocket) write(frame any) {
	s.t.Helper()
	require.NoError(s.t, s.conn.WriteJSON(frame))
}

func (s *testSocket) read() wire.Inbound {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := s.conn.ReadMessage()
	require.NoError(s.t, err)
	in, err := wire.DecodeInbound(raw)
	require.NoError(s.t, err)
	return in
}

// authenticate performs the handshake and consumes the ack and the
// notification snapshot that follows it.
func (s *testSocket) authenticate(user tokenResponse) wire.Inbound {
	s.t.Helper()
	s.write(wire.Authenticate{Type: wire.TypeAuthenticate, UserID: user.UserID, Token: user.Token})
	ack := s.read()
	require.Equal(s.t, wire.TypeAuthenticated, ack.Type)
	require.Equal(s.t, user.UserID, ack.UserID)
	snap := s.read()
	require.Equal(s.t, wire.TypeNotificationUpdate, snap.Type)
	return snap
}

func startSocketServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestSocket_DeliversToEveryReceiverChannel(t *testing.T) {
	req := require.New(t)
	s, ts := startSocketServer(t)
	buyer := registerUser(t, s.routes(), "buyer@example.com")
	vendor := registerUser(t, s.routes(), "vendor@example.com")

	tab1, tab2 := dialSocket(t, ts), dialSocket(t, ts)
	tab1.authenticate(vendor)
	tab2.authenticate(vendor)
	buyerTab := dialSocket(t, ts)
	buyerTab.authenticate(buyer)

	product := int64(5)
	buyerTab.write(wire.SendMessage{
		Type: wire.TypeSendMessage, ReceiverID: vendor.UserID, ProductID: &product,
		Content: "still available?", MessageType: "text", ClientMessageID: "c-1",
	})

	sent := buyerTab.read()
	req.Equal(wire.TypeMessageSent, sent.Type)
	req.Equal("c-1", sent.ClientMessageID)
	for _, tab := range []*testSocket{tab1, tab2} {
		got := tab.read()
		req.Equal(wire.TypeNewMessage, got.Type)
		req.Equal(sent.Message.ID, got.Message.ID)
		req.Equal("still available?", got.Message.Content)
		req.Equal(int64(5), *got.Message.ProductID)
	}
}

func TestSocket_OrderIsPreserved(t *testing.T) {
	req := require.New(t)
	s, ts := startSocketServer(t)
	buyer := registerUser(t, s.routes(), "buyer@example.com")
	vendor := registerUser(t, s.routes(), "vendor@example.com")

	vendorTab, buyerTab := dialSocket(t, ts), dialSocket(t, ts)
	vendorTab.authenticate(vendor)
	buyerTab.authenticate(buyer)

	buyerTab.write(wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: vendor.UserID, Content: "m1"})
	buyerTab.write(wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: vendor.UserID, Content: "m2"})

	first, second := vendorTab.read(), vendorTab.read()
	req.Equal("m1", first.Message.Content)
	req.Equal("m2", second.Message.Content)
	req.Less(first.Message.ID, second.Message.ID)
}

func TestSocket_RejectsForeignToken(t *testing.T) {
	req := require.New(t)
	s, ts := startSocketServer(t)
	buyer := registerUser(t, s.routes(), "buyer@example.com")
	vendor := registerUser(t, s.routes(), "vendor@example.com")

	sock := dialSocket(t, ts)
	sock.write(wire.Authenticate{Type: wire.TypeAuthenticate, UserID: vendor.UserID, Token: buyer.Token})
	got := sock.read()
	req.Equal(wire.TypeError, got.Type)
	req.Equal(wire.CodeUnauthenticated, got.Error.Code)
	req.False(s.svc.IsOnline(vendor.UserID))

	sock.write(wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: buyer.UserID, Content: "x"})
	got = sock.read()
	req.Equal(wire.CodeUnauthenticated, got.Error.Code)
}

func TestSocket_ErrorsAndDuplicates(t *testing.T) {
	req := require.New(t)
	s, ts := startSocketServer(t)
	buyer := registerUser(t, s.routes(), "buyer@example.com")
	vendor := registerUser(t, s.routes(), "vendor@example.com")

	buyerTab := dialSocket(t, ts)
	buyerTab.authenticate(buyer)

	buyerTab.write(wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: vendor.UserID, Content: "   ", ClientMessageID: "empty"})
	got := buyerTab.read()
	req.Equal(wire.TypeError, got.Type)
	req.Equal(wire.CodeValidation, got.Error.Code)
	req.Equal("empty", got.ClientMessageID)

	buyerTab.write(wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: buyer.UserID, Content: "self"})
	req.Equal(wire.CodeValidation, buyerTab.read().Error.Code)

	buyerTab.write(gin.H{"type": "shout"})
	req.Equal(wire.CodeBadFrame, buyerTab.read().Error.Code)

	frame := wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: vendor.UserID, Content: "once", ClientMessageID: "dup-1"}
	buyerTab.write(frame)
	first := buyerTab.read()
	buyerTab.write(frame)
	second := buyerTab.read()
	req.Equal(wire.TypeMessageSent, second.Type)
	req.Equal(first.Message.ID, second.Message.ID)

	hist, err := s.svc.History(t.Context(), buyer.UserID, vendor.UserID, nil)
	req.NoError(err)
	req.Len(hist, 1)
}

func TestSocket_PresenceFollowsConnection(t *testing.T) {
	req := require.New(t)
	s, ts := startSocketServer(t)
	vendor := registerUser(t, s.routes(), "vendor@example.com")

	sock := dialSocket(t, ts)
	snap := sock.authenticate(vendor)
	req.False(snap.HasNewMessages)
	req.True(s.svc.IsOnline(vendor.UserID))

	req.NoError(sock.conn.Close())
	req.Eventually(func() bool { return !s.svc.IsOnline(vendor.UserID) }, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_SnapshotReportsUnreadOnConnect(t *testing.T) {
	req := require.New(t)
	s, ts := startSocketServer(t)
	buyer := registerUser(t, s.routes(), "buyer@example.com")
	vendor := registerUser(t, s.routes(), "vendor@example.com")

	buyerTab := dialSocket(t, ts)
	buyerTab.authenticate(buyer)
	buyerTab.write(wire.SendMessage{Type: wire.TypeSendMessage, ReceiverID: vendor.UserID, Content: "hi"})
	req.Equal(wire.TypeMessageSent, buyerTab.read().Type)

	vendorTab := dialSocket(t, ts)
	snap := vendorTab.authenticate(vendor)
	req.True(snap.HasNewMessages)
}
