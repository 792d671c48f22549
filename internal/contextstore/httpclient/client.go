// Package httpclient is a contextstore.Store that talks to the context API
// served by `figuro-voice serve` (see internal/contextapi).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/figuro/voice/internal/contextstore"
)

var _ contextstore.Store = (*Client)(nil)

const (
	defaultTimeout = 10 * time.Second
	contextPath    = "/api/voice-agent/context"
	historyPath    = "/api/voice-agent/conversation-history"
	insightsPath   = "/api/voice-agent/insights"
	userHeader     = "X-User-ID"
)

// Client is safe for concurrent use. The userID argument of each method is
// sent as the X-User-ID header.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout. Default 10 s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// New returns a Client for the server at baseURL, e.g. "http://localhost:8090".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("httpclient: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// GetContext implements [contextstore.Store].
func (c *Client) GetContext(ctx context.Context, userID, sessionID string) (contextstore.Context, error) {
	var out contextstore.Context
	err := c.do(ctx, http.MethodGet, contextPath, query("sessionId", sessionID), userID, nil, &out)
	return out, err
}

// AppendTurn implements [contextstore.Store].
func (c *Client) AppendTurn(ctx context.Context, userID, sessionID string, e contextstore.Entry) error {
	body := map[string]any{
		"sessionId":     sessionID,
		"id":            e.ID,
		"userInput":     e.UserInput,
		"agentResponse": e.AgentResponse,
		"intent":        e.Intent,
		"entities":      e.Entities,
	}
	return c.do(ctx, http.MethodPost, contextPath, nil, userID, body, nil)
}

// History implements [contextstore.Store].
func (c *Client) History(ctx context.Context, userID, sessionID string, limit int) (contextstore.History, error) {
	q := query("sessionId", sessionID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out contextstore.History
	err := c.do(ctx, http.MethodGet, historyPath, q, userID, nil, &out)
	if out.ConversationHistory == nil {
		out.ConversationHistory = []contextstore.Entry{}
	}
	return out, err
}

// Clear implements [contextstore.Store].
func (c *Client) Clear(ctx context.Context, userID, sessionID string) error {
	return c.do(ctx, http.MethodDelete, historyPath, nil, userID, map[string]string{"sessionId": sessionID}, nil)
}

// Insights implements [contextstore.Store].
func (c *Client) Insights(ctx context.Context, userID string) (contextstore.Insights, error) {
	var out contextstore.Insights
	err := c.do(ctx, http.MethodGet, insightsPath, nil, userID, nil, &out)
	return out, err
}

func query(k, v string) url.Values {
	q := url.Values{}
	if v != "" {
		q.Set(k, v)
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, userID string, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpclient: marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("httpclient: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(userHeader, contextstore.UserOrAnonymous(userID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decErr := json.NewDecoder(resp.Body).Decode(&env)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return contextstore.ErrNotFound
	case resp.StatusCode/100 != 2:
		if env.Message != "" {
			return fmt.Errorf("httpclient: %s %s returned status %d: %s", method, path, resp.StatusCode, env.Message)
		}
		return fmt.Errorf("httpclient: %s %s returned status %d", method, path, resp.StatusCode)
	case decErr != nil:
		return fmt.Errorf("httpclient: decode %s response: %w", path, decErr)
	case !env.Success:
		return fmt.Errorf("httpclient: %s %s failed: %s", method, path, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("httpclient: decode %s data: %w", path, err)
		}
	}
	return nil
}
