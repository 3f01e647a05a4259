// Package api is the REST client for the marketplace backend. It covers
// the chat endpoints the client depends on plus the auth calls needed to
// obtain an identity and bearer token. All failures are normalized into
// *Error so callers never see raw transport errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Error is a normalized backend failure.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// New creates a REST client for the given base URL (e.g. "https://host/api").
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// SetToken sets the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &Error{Status: resp.StatusCode, Message: "malformed response"}
	}
	if resp.StatusCode >= 400 || !env.Success {
		return &Error{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Status: resp.StatusCode, Message: "malformed response data"}
		}
	}
	return nil
}

// Login authenticates and returns the session. The token is retained on
// the client for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var data struct {
		User        User   `json:"user"`
		AccessToken string `json:"accessToken"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login",
		map[string]string{"email": email, "password": password}, &data)
	if err != nil {
		return nil, err
	}
	c.SetToken(data.AccessToken)
	return &Session{User: data.User, AccessToken: data.AccessToken}, nil
}

// Me returns the authenticated user for the current token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var data struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &data); err != nil {
		return nil, err
	}
	return &data.User, nil
}

// ListConversations returns the current user's conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var data struct {
		Chats []Conversation `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat", nil, &data); err != nil {
		return nil, err
	}
	return data.Chats, nil
}

// GetConversation returns a conversation with its ordered message history.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var data struct {
		Chat Conversation `json:"chat"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/"+id, nil, &data); err != nil {
		return nil, err
	}
	return &data.Chat, nil
}

// CreateConversation fetches or creates the conversation between the
// current user and sellerID for a listing. Idempotent server-side.
func (c *Client) CreateConversation(ctx context.Context, listingID, sellerID string) (*Conversation, error) {
	var data struct {
		Chat Conversation `json:"chat"`
	}
	err := c.do(ctx, http.MethodPost, "/chat",
		map[string]string{"listingId": listingID, "sellerId": sellerID}, &data)
	if err != nil {
		return nil, err
	}
	return &data.Chat, nil
}

// SendMessage persists a message and returns the canonical stored copy
// (server id and timestamp assigned).
func (c *Client) SendMessage(ctx context.Context, chatID, content, msgType string) (*Message, error) {
	var data struct {
		Message Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/chat/"+chatID+"/messages",
		map[string]string{"content": content, "type": msgType}, &data)
	if err != nil {
		return nil, err
	}
	return &data.Message, nil
}

// MarkRead resets the current user's unread counter for a conversation.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPut, "/chat/"+chatID+"/read", nil, nil)
}

// UnreadCount returns the aggregate unread count across all conversations.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var data struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/unread/count", nil, &data); err != nil {
		return 0, err
	}
	return data.Count, nil
}
