package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient starts an httptest server around handler and returns a
// client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithServerAddr(srv.URL), WithHTTPClient(srv.Client()))
}

func TestInvokeSuccess(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/engine/tools/invoke" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Tool    string                 `json:"tool"`
			AgentID string                 `json:"agentId"`
			Params  map[string]interface{} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Tool != "grep" || req.AgentID != "agent-1" {
			t.Errorf("request = %+v", req)
		}
		if req.Params["pattern"] != "TODO" {
			t.Errorf("params = %v", req.Params)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tool": "grep",
			"content": []map[string]string{
				{"type": "text", "text": "main.go:3:// TODO fix"},
			},
			"details": map[string]interface{}{"matches": 1},
		})
	})

	result, err := client.Invoke(context.Background(), "agent-1", "grep", map[string]interface{}{
		"pattern": "TODO",
	})
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if result.Tool != "grep" {
		t.Errorf("Tool = %q", result.Tool)
	}
	if got := result.Text(); got != "main.go:3:// TODO fix" {
		t.Errorf("Text() = %q", got)
	}
	if result.Details["matches"] != float64(1) {
		t.Errorf("Details = %v", result.Details)
	}
}

func TestInvokeDenied(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  `path "/etc/passwd" is outside the allowed directories`,
			"reason": "sandbox_violation",
		})
	})

	_, err := client.Invoke(context.Background(), "agent-1", "grep", nil)
	if err == nil {
		t.Fatal("Invoke() = nil, want denial")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Reason != ReasonSandboxViolation {
		t.Errorf("Reason = %q", apiErr.Reason)
	}
	if !IsDenied(err) {
		t.Error("IsDenied() = false")
	}
	if IsRateLimited(err) || IsCircuitOpen(err) {
		t.Error("wrong reason predicate matched")
	}
}

func TestInvokeRateLimitedRetryAfter(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  "rate limit exceeded",
			"reason": "rate_limited",
		})
	})

	_, err := client.Invoke(context.Background(), "agent-1", "fetch", nil)
	if !IsRateLimited(err) {
		t.Fatalf("IsRateLimited() = false for %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", apiErr.RetryAfter)
	}
}

func TestInvokeNonJSONErrorBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	})

	_, err := client.Invoke(context.Background(), "agent-1", "grep", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Message != "upstream unavailable" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Reason != "" || IsDenied(err) {
		t.Error("plain failure should not look like a denial")
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/engine/tools" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tools": []map[string]string{
				{"name": "fetch", "description": "fetch a URL", "riskLevel": "MEDIUM"},
				{"name": "grep", "description": "search files", "riskLevel": "MEDIUM"},
			},
		})
	})

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() = %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "fetch" || tools[1].RiskLevel != "MEDIUM" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestQueryAuditParams(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("agent") != "agent-1" || q.Get("tool") != "shell" {
			t.Errorf("query = %v", q)
		}
		if q.Get("outcome") != "blocked" || q.Get("limit") != "10" {
			t.Errorf("query = %v", q)
		}
		if q.Get("since") != since.Format(time.RFC3339) {
			t.Errorf("since = %q", q.Get("since"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"entries": []map[string]interface{}{
				{
					"trace_id":     "t-1",
					"tool_name":    "shell",
					"agent_id":     "agent-1",
					"outcome":      "blocked",
					"block_reason": "command_blocked",
				},
			},
		})
	})

	entries, err := client.QueryAudit(context.Background(), AuditFilter{
		AgentID:  "agent-1",
		ToolName: "shell",
		Outcome:  "blocked",
		Since:    since,
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("QueryAudit() = %v", err)
	}
	if len(entries) != 1 || entries[0].BlockReason != "command_blocked" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestBreakers(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"breakers": []map[string]interface{}{
				{"key": "agent-1/fetch", "state": "open", "consecutiveFailures": 5},
			},
		})
	})

	snaps, err := client.Breakers(context.Background())
	if err != nil {
		t.Fatalf("Breakers() = %v", err)
	}
	if len(snaps) != 1 || snaps[0].State != "open" || snaps[0].ConsecutiveFailures != 5 {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestClientDefaults(t *testing.T) {
	c := NewClient()
	if c.serverAddr != "http://127.0.0.1:8080" {
		t.Errorf("default serverAddr = %q", c.serverAddr)
	}
	if c.httpClient == nil {
		t.Fatal("nil httpClient")
	}

	c = NewClient(WithServerAddr("http://gateway:9000/"))
	if c.serverAddr != "http://gateway:9000" {
		t.Errorf("trailing slash not trimmed: %q", c.serverAddr)
	}
}
