package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/auth"
	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := data.NewMemoryStore()
	authRate := middleware.NewLimiterStore(600, 50, time.Minute)
	sendRate := middleware.NewLimiterStore(600, 50, time.Minute)
	t.Cleanup(authRate.Stop)
	t.Cleanup(sendRate.Stop)

	return newServer(serverOptions{
		Users:    store,
		Messages: store,
		Auth:     auth.NewJWTManager(testSecret, time.Hour),
		AuthRate: authRate,
		SendRate: sendRate,
		Log:      logs.GetLoggerFromLevel(slog.LevelDebug),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, h http.Handler, email string) tokenResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", gin.H{"email": email, "password": "testPass123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
