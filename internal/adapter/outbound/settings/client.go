// Package settings fetches security policies from the dashboard settings
// API. It implements policy.Source over HTTP.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/policy"
)

const defaultRequestTimeout = 5 * time.Second

// Client resolves policies from the settings API:
//
//	GET {base}/api/settings/tool-security          org-wide default
//	GET {base}/engine/agents/{id}/tool-security    per-agent override
//
// Responses may wrap the payload in a toolSecurityConfig (settings) or
// toolSecurity (agents) envelope; both are unwrapped transparently.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a settings API client for the given base URL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OrgDefault fetches the org-wide default policy.
func (c *Client) OrgDefault(ctx context.Context) (policy.ToolSecurity, error) {
	raw, err := c.get(ctx, c.baseURL+"/api/settings/tool-security")
	if err != nil {
		return policy.ToolSecurity{}, err
	}
	raw = unwrapEnvelope(raw, "toolSecurityConfig")

	ts := policy.DefaultToolSecurity()
	if err := json.Unmarshal(raw, &ts); err != nil {
		return policy.ToolSecurity{}, fmt.Errorf("decode org default policy: %w", err)
	}
	return ts, nil
}

// AgentOverride fetches the sparse override for one agent. A 404 means the
// agent has no override and returns (nil, nil).
func (c *Client) AgentOverride(ctx context.Context, agentID string) (*policy.Override, error) {
	u := c.baseURL + "/engine/agents/" + url.PathEscape(agentID) + "/tool-security"
	raw, err := c.get(ctx, u)
	if err != nil {
		if isNotFound(err) {
			c.logger.Debug("agent has no policy override", "agent_id", agentID)
			return nil, nil
		}
		return nil, err
	}
	raw = unwrapEnvelope(raw, "toolSecurity")

	var ov policy.Override
	if err := json.Unmarshal(raw, &ov); err != nil {
		return nil, fmt.Errorf("decode agent override: %w", err)
	}
	return &ov, nil
}

// statusError reports a non-2xx response.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("settings api returned %d for %s", e.code, e.url)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (c *Client) get(ctx context.Context, u string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("settings api request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{code: resp.StatusCode, url: u}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read settings response: %w", err)
	}
	return body, nil
}

// unwrapEnvelope returns the value under key when the payload is wrapped,
// otherwise the payload itself.
func unwrapEnvelope(raw json.RawMessage, key string) json.RawMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if inner, ok := envelope[key]; ok {
		return inner
	}
	return raw
}

// Compile-time interface verification.
var _ policy.Source = (*Client)(nil)
