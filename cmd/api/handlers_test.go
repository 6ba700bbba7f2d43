package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	req := require.New(t)
	h := newTestServer(t).routes()

	reg := registerUser(t, h, "Buyer@Example.com")
	req.NotEmpty(reg.Token)
	req.Positive(reg.UserID)

	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", gin.H{"email": "buyer@example.com", "password": "testPass123"})
	req.Equal(http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"email": "buyer@example.com", "password": "testPass123"})
	req.Equal(http.StatusOK, rec.Code)
	var login tokenResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &login))
	req.Equal(reg.UserID, login.UserID)

	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"email": "buyer@example.com", "password": "wrongPass123"})
	req.Equal(http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"email": "nobody@example.com", "password": "testPass123"})
	req.Equal(http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "", gin.H{"email": "not-an-email", "password": "short"})
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	req := require.New(t)
	h := newTestServer(t).routes()

	rec := doJSON(t, h, http.MethodGet, "/api/conversations", "", nil)
	req.Equal(http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/conversations", "garbage", nil)
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestHistoryConversationsAndMarkRead(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	h := s.routes()

	buyer := registerUser(t, h, "buyer@example.com")
	vendor := registerUser(t, h, "vendor@example.com")

	product := int64(77)
	ctx := context.Background()
	_, err := s.svc.Send(ctx, data.NewMessage{SenderID: buyer.UserID, ReceiverID: vendor.UserID, Content: "hi"})
	req.NoError(err)
	_, err = s.svc.Send(ctx, data.NewMessage{SenderID: buyer.UserID, ReceiverID: vendor.UserID, ProductID: &product, Content: "is this in stock?"})
	req.NoError(err)

	rec := doJSON(t, h, http.MethodGet, "/api/messages?with="+itoa(buyer.UserID), vendor.Token, nil)
	req.Equal(http.StatusOK, rec.Code)
	var hist struct {
		Messages []data.Message `json:"messages"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &hist))
	req.Len(hist.Messages, 1)
	req.Equal("hi", hist.Messages[0].Content)

	rec = doJSON(t, h, http.MethodGet, "/api/messages?with="+itoa(buyer.UserID)+"&productId=77", vendor.Token, nil)
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &hist))
	req.Len(hist.Messages, 1)
	req.Equal("is this in stock?", hist.Messages[0].Content)

	rec = doJSON(t, h, http.MethodGet, "/api/messages?with=abc", vendor.Token, nil)
	req.Equal(http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/conversations", vendor.Token, nil)
	req.Equal(http.StatusOK, rec.Code)
	var convs struct {
		Conversations []data.ConversationSummary `json:"conversations"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &convs))
	req.Len(convs.Conversations, 2)
	req.NotNil(convs.Conversations[0].ProductID)
	req.EqualValues(1, convs.Conversations[0].UnreadCount)

	rec = doJSON(t, h, http.MethodPost, "/api/conversations/read", vendor.Token, gin.H{"counterpartId": buyer.UserID, "productId": product})
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"updated":1}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/conversations/read", vendor.Token, gin.H{"counterpartId": buyer.UserID, "productId": product})
	req.JSONEq(`{"updated":0}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/conversations/read", vendor.Token, gin.H{})
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestPresenceAndHealthz(t *testing.T) {
	req := require.New(t)
	h := newTestServer(t).routes()
	user := registerUser(t, h, "someone@example.com")

	rec := doJSON(t, h, http.MethodGet, "/api/users/"+itoa(user.UserID)+"/presence", user.Token, nil)
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"userId":`+itoa(user.UserID)+`,"online":false}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/users/x/presence", user.Token, nil)
	req.Equal(http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"status":"ok","onlineUsers":0,"channels":0}`, rec.Body.String())
}
