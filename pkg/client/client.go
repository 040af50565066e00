// Package client is the Go SDK for the PawSync server.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Submit a batch of outbox items
//	res, err := c.SubmitBatch(ctx, items)
//
//	// Fetch conversation history
//	msgs, err := c.Messages(ctx, "match-123", 50)
//
//	// Live push
//	sub, err := c.SubscribeMatch(ctx, "match-123")
//	for msg := range sub.Messages() {
//	    render(msg)
//	}
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

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

	"github.com/pawmatch/pawsync/internal/connectivity"
	"github.com/pawmatch/pawsync/internal/types"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the PawSync server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pawsync: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the error is a 401 from the server.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized
}

// ─── Client options ───────────────────────────────────────────────────────────

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the PawSync API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the PawSync server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("https://sync.pawmatch.example", client.WithAPIKey("secret"))
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Message is a chat message fetched from the server.
type Message struct {
	ID         string            `json:"id"`
	MatchID    string            `json:"match_id"`
	SenderID   string            `json:"sender_id"`
	Body       []byte            `json:"body"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	QueuedAt   int64             `json:"queued_at"`
	ReceivedAt int64             `json:"received_at"`
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status   string
	NodeID   string
	Messages int
	Uptime   time.Duration
	Version  string
}

// ─── Sync ─────────────────────────────────────────────────────────────────────

// SubmitBatch sends a batch of outbox items to the server and returns the
// per-item verdicts. It satisfies the syncer's Endpoint interface.
func (c *Client) SubmitBatch(ctx context.Context, items []types.OutboxItem) (*types.BatchResult, error) {
	var res types.BatchResult
	if err := c.do(ctx, http.MethodPost, "/v1/outbox/sync", types.SyncRequest{Items: items}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ─── Match history ────────────────────────────────────────────────────────────

// Messages fetches up to limit messages for a match, oldest first within the
// returned window. limit <= 0 fetches everything.
func (c *Client) Messages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	path := "/v1/matches/" + url.PathEscape(matchID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ─── Observability ────────────────────────────────────────────────────────────

// Health checks the server's /health endpoint and returns the node's status.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		NodeID   string `json:"node_id"`
		Messages int    `json:"messages"`
		UptimeMs int64  `json:"uptime_ms"`
		Version  string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:   resp.Status,
		NodeID:   resp.NodeID,
		Messages: resp.Messages,
		Uptime:   time.Duration(resp.UptimeMs) * time.Millisecond,
		Version:  resp.Version,
	}, nil
}

// Check probes the server's health endpoint and maps the outcome to a
// connectivity observation, satisfying the monitor's Probe interface.
// Connected is always true here: the client cannot see the device's
// interface state, only whether the server answers.
func (c *Client) Check(ctx context.Context) (connectivity.State, error) {
	if _, err := c.Health(ctx); err != nil {
		return connectivity.State{Connected: true}, err
	}
	return connectivity.State{Connected: true, InternetReachable: true}, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("pawsync: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("pawsync: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pawsync: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	// Success without body
	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("pawsync: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("pawsync: decode response: %w", err)
		}
	}
	return nil
}
