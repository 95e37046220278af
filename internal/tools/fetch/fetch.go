// Package fetch implements an HTTP GET tool guarded by the SSRF policy.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/tool"
)

const defaultMaxBodyBytes = 1 << 20

var inputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"url": {"type": "string", "description": "URL to fetch (http or https)"}
	},
	"required": ["url"]
}`)

// Tool fetches a URL and returns the response body as text.
type Tool struct {
	ssrf         *guard.SSRFGuard
	policy       policy.SSRFPolicy
	client       *http.Client
	maxBodyBytes int64
}

// Option configures the Tool.
type Option func(*Tool)

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Tool) { t.client = hc }
}

// WithMaxBodyBytes caps the response body size.
func WithMaxBodyBytes(n int64) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxBodyBytes = n
		}
	}
}

// New creates the fetch tool. The SSRF policy is applied directly against
// the final URL before any connection is opened; the pipeline additionally
// validates URL-shaped parameters before execution.
func New(pol policy.SSRFPolicy, opts ...Option) *Tool {
	t := &Tool{
		ssrf:         guard.NewSSRFGuard(),
		policy:       pol,
		client:       &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string        { return "fetch" }
func (t *Tool) Description() string { return "Fetch a URL over HTTP GET" }

func (t *Tool) InputSchema() json.RawMessage { return inputSchema }

func (t *Tool) SideEffects() []tool.SideEffect {
	return []tool.SideEffect{tool.SideEffectNetwork}
}

// Execute fetches the URL. Redirects are re-checked against the SSRF policy
// so a public host cannot bounce the request into a private range.
func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return tool.TextResult("url is required"), nil
	}

	if err := t.ssrf.Validate(ctx, rawURL, t.policy); err != nil {
		return tool.TextResult(fmt.Sprintf("blocked: %v", err)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tool.TextResult(fmt.Sprintf("invalid url: %v", err)), nil
	}

	client := *t.client
	client.CheckRedirect = func(r *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("too many redirects")
		}
		return t.ssrf.Validate(r.Context(), r.URL.String(), t.policy)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	truncated := int64(len(body)) > t.maxBodyBytes
	if truncated {
		body = body[:t.maxBodyBytes]
	}

	result := tool.TextResult(string(body))
	result.Details = map[string]interface{}{
		"status":      resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
		"truncated":   truncated,
	}
	return result, nil
}

// Compile-time interface verification.
var _ tool.Tool = (*Tool)(nil)
