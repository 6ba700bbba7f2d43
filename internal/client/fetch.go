package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/data"
)

// Fetcher pulls state over the HTTP API. It covers what the channel does
// not push: history, summaries and markRead.
type Fetcher struct {
	base  string
	token string
	http  *http.Client
}

// Token is what register and login return.
type Token struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NewFetcher talks to the API rooted at base (for example
// "http://localhost:8080"). token may be empty for Register and Login.
func NewFetcher(base, token string, hc *http.Client) *Fetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{base: base, token: token, http: hc}
}

// WithToken returns a copy authenticated as token.
func (f *Fetcher) WithToken(token string) *Fetcher {
	cp := *f
	cp.token = token
	return &cp
}

func (f *Fetcher) Register(ctx context.Context, email, password string) (*Token, error) {
	var out Token
	err := f.do(ctx, http.MethodPost, "/api/auth/register", nil, map[string]string{"email": email, "password": password}, &out)
	return &out, err
}

func (f *Fetcher) Login(ctx context.Context, email, password string) (*Token, error) {
	var out Token
	err := f.do(ctx, http.MethodPost, "/api/auth/login", nil, map[string]string{"email": email, "password": password}, &out)
	return &out, err
}

func (f *Fetcher) Conversations(ctx context.Context) ([]*data.ConversationSummary, error) {
	var out struct {
		Conversations []*data.ConversationSummary `json:"conversations"`
	}
	if err := f.do(ctx, http.MethodGet, "/api/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (f *Fetcher) History(ctx context.Context, with int64, productID *int64) ([]*data.Message, error) {
	q := url.Values{"with": {strconv.FormatInt(with, 10)}}
	if productID != nil {
		q.Set("productId", strconv.FormatInt(*productID, 10))
	}
	var out struct {
		Messages []*data.Message `json:"messages"`
	}
	if err := f.do(ctx, http.MethodGet, "/api/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (f *Fetcher) MarkRead(ctx context.Context, counterpart int64, productID *int64) (int64, error) {
	body := struct {
		CounterpartID int64  `json:"counterpartId"`
		ProductID     *int64 `json:"productId,omitempty"`
	}{counterpart, productID}
	var out struct {
		Updated int64 `json:"updated"`
	}
	if err := f.do(ctx, http.MethodPost, "/api/conversations/read", nil, body, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (f *Fetcher) Presence(ctx context.Context, userID int64) (bool, error) {
	var out struct {
		Online bool `json:"online"`
	}
	path := "/api/users/" + strconv.FormatInt(userID, 10) + "/presence"
	if err := f.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

func (f *Fetcher) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := f.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Sync pulls conversation summaries and merges them into the session.
func Sync(ctx context.Context, f *Fetcher, s *Session) error {
	convs, err := f.Conversations(ctx)
	if err != nil {
		return err
	}
	return s.Reconcile(convs)
}

// OpenConversation pulls a conversation, merges it and marks it read.
func OpenConversation(ctx context.Context, f *Fetcher, s *Session, counterpart int64, productID *int64) error {
	msgs, err := f.History(ctx, counterpart, productID)
	if err != nil {
		return err
	}
	if err := s.LoadHistory(counterpart, productID, msgs); err != nil {
		return err
	}
	if _, err := f.MarkRead(ctx, counterpart, productID); err != nil {
		return err
	}
	return s.MarkedRead(counterpart, productID)
}
