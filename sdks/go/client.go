package toolgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the toolgate engine API.
type Client struct {
	serverAddr string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. The server address defaults to
// TOOLGATE_SERVER_ADDR, then "http://127.0.0.1:8080"; options override.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("TOOLGATE_SERVER_ADDR"),
		timeout:    parseDurationEnv("TOOLGATE_TIMEOUT", 65*time.Second),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.serverAddr == "" {
		c.serverAddr = "http://127.0.0.1:8080"
	}
	c.serverAddr = strings.TrimRight(c.serverAddr, "/")
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Invoke runs a tool through the server's execution pipeline. Denials and
// failures return a *APIError; transport problems return the underlying
// error.
func (c *Client) Invoke(ctx context.Context, agentID, toolName string, params map[string]interface{}) (*InvokeResult, error) {
	body := map[string]interface{}{
		"tool":    toolName,
		"agentId": agentID,
		"params":  params,
	}
	var result InvokeResult
	if err := c.do(ctx, http.MethodPost, "/engine/tools/invoke", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools returns the tools exposed by the server, sorted by name.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/engine/tools", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Telemetry returns the per-tool invocation counters.
func (c *Client) Telemetry(ctx context.Context) (map[string]ToolStats, error) {
	var resp struct {
		Tools map[string]ToolStats `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/engine/telemetry", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Breakers returns the current circuit breaker states.
func (c *Client) Breakers(ctx context.Context) ([]BreakerSnapshot, error) {
	var resp struct {
		Breakers []BreakerSnapshot `json:"breakers"`
	}
	if err := c.do(ctx, http.MethodGet, "/engine/breakers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Breakers, nil
}

// QueryAudit returns audit entries matching the filter, most recent first.
// Servers whose audit backend has no query support return an APIError with
// status 501.
func (c *Client) QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	q := url.Values{}
	if f.AgentID != "" {
		q.Set("agent", f.AgentID)
	}
	if f.ToolName != "" {
		q.Set("tool", f.ToolName)
	}
	if f.Outcome != "" {
		q.Set("outcome", f.Outcome)
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	path := "/engine/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// do sends one request and decodes the response into out. Non-2xx responses
// become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("toolgate: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverAddr+path, reqBody)
	if err != nil {
		return fmt.Errorf("toolgate: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("toolgate: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("toolgate: decode response: %w", err)
	}
	return nil
}

// apiError builds an *APIError from an error response body, tolerating
// non-JSON bodies from intermediaries.
func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		apiErr.Message = resp.Status
		return apiErr
	}

	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	apiErr.Message = body.Error
	apiErr.Reason = body.Reason
	return apiErr
}

func parseDurationEnv(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
