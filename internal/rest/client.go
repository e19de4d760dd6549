// Package rest implements the authenticated request executor for the chat
// backend: paginated history reads and message creation, with categorized
// failures. Retry policy beyond what the callers implement is out of scope
// here.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tbduarte/chatsync/internal/auth"
	"github.com/tbduarte/chatsync/internal/wire"
)

// Client executes authenticated requests against the chat backend.
type Client struct {
	baseURL string
	http    *http.Client
	creds   auth.Provider
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, creds auth.Provider) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		creds:   creds,
	}
}

// HistoryPage is one page of the remote history endpoint.
type HistoryPage struct {
	Messages []wire.Message `json:"messages"`
	HasMore  bool           `json:"hasMore"`
}

// History fetches one page of messages older than before (unix millis; <= 0
// means newest page), at most limit entries.
func (c *Client) History(ctx context.Context, conversationID, before int64, limit int) (*HistoryPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before > 0 {
		q.Set("before", wire.FormatTimestamp(before))
	}
	path := fmt.Sprintf("/conversations/%d/messages?%s", conversationID, q.Encode())

	var page HistoryPage
	if err := c.do(ctx, "history", http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Create submits a new message and returns the server-confirmed entity.
func (c *Client) Create(ctx context.Context, conversationID int64, content string) (*wire.Message, error) {
	body := map[string]string{"content": content}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)

	var msg wire.Message
	if err := c.do(ctx, "create", http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindMalformed, Op: op, Err: err}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := c.creds.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		kind := categorize(resp.StatusCode)
		if kind == KindUnauthorized {
			// Forward to the session provider's invalidation path; the
			// engine does not handle re-authentication itself.
			c.creds.Invalidate()
		}
		return &Error{
			Kind:   kind,
			Status: resp.StatusCode,
			Op:     op,
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindMalformed, Status: resp.StatusCode, Op: op, Err: err}
		}
	}
	return nil
}

func categorize(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindMalformed
	default:
		return KindServer
	}
}
