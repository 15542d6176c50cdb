package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/barff/frankd/internal/scheduler"
)

// ClientError is a non-2xx response from the gateway.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Client calls a running gateway. The CLI uses it for every command except
// serve and state.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL, such as http://127.0.0.1:7683.
// An empty token sends no Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &ClientError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func pollerPath(name, action string) string {
	p := "/api/v1/pollers/" + url.PathEscape(name)
	if action != "" {
		p += "/" + action
	}
	return p
}

// Health checks that the gateway is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Status fetches the combined status.
func (c *Client) Status(ctx context.Context) (scheduler.Status, error) {
	var st scheduler.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st)
	return st, err
}

// PollerStatus fetches one poller.
func (c *Client) PollerStatus(ctx context.Context, name string) (scheduler.PollerStatus, error) {
	var st scheduler.PollerStatus
	err := c.do(ctx, http.MethodGet, pollerPath(name, ""), nil, &st)
	return st, err
}

// Start starts a poller. A zero interval uses the configured schedule.
func (c *Client) Start(ctx context.Context, name string, interval time.Duration) (ActionResponse, error) {
	var req StartRequest
	if interval > 0 {
		req.Interval = interval.String()
	}
	var resp ActionResponse
	err := c.do(ctx, http.MethodPost, pollerPath(name, "start"), req, &resp)
	return resp, err
}

// Stop stops a poller.
func (c *Client) Stop(ctx context.Context, name string) (ActionResponse, error) {
	var resp ActionResponse
	err := c.do(ctx, http.MethodPost, pollerPath(name, "stop"), nil, &resp)
	return resp, err
}

// Trigger runs one tick out of band. A positive interval also restarts the
// poller on it.
func (c *Client) Trigger(ctx context.Context, name string, interval time.Duration) (ActionResponse, error) {
	var req StartRequest
	if interval > 0 {
		req.Interval = interval.String()
	}
	var resp ActionResponse
	err := c.do(ctx, http.MethodPost, pollerPath(name, "trigger"), req, &resp)
	return resp, err
}

// Inject sends text to the session.
func (c *Client) Inject(ctx context.Context, req InjectRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/inject", req, nil)
}

// ReportInput sends the input-pending heartbeat.
func (c *Client) ReportInput(ctx context.Context, hasText bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/input", InputRequest{HasText: hasText}, nil)
}

// State fetches the ledger summary.
func (c *Client) State(ctx context.Context) (scheduler.StateSummary, error) {
	var sum scheduler.StateSummary
	err := c.do(ctx, http.MethodGet, "/api/v1/state", nil, &sum)
	return sum, err
}
