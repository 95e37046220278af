// Package toolgate is the Go client SDK for the toolgate engine API.
//
// The client invokes tools through a running toolgate server, which applies
// schema validation, sandbox and SSRF guards, command sanitization, rate
// limiting and circuit breaking before the tool runs. Denials surface as
// *APIError values carrying the machine-readable reason code.
//
// Basic usage:
//
//	client := toolgate.NewClient(
//		toolgate.WithServerAddr("http://127.0.0.1:8080"),
//	)
//	result, err := client.Invoke(ctx, "agent-1", "grep", map[string]interface{}{
//		"pattern": "TODO",
//	})
package toolgate

import (
	"encoding/json"
	"time"
)

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InvokeResult is the outcome of a successful tool invocation.
type InvokeResult struct {
	Tool    string                 `json:"tool"`
	Content []ContentBlock         `json:"content"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Text concatenates the text content blocks of the result.
func (r *InvokeResult) Text() string {
	out := ""
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ToolInfo describes one tool exposed by the server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	RiskLevel   string          `json:"riskLevel"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolStats is the per-tool telemetry snapshot reported by the server.
type ToolStats struct {
	Calls            int64 `json:"calls"`
	Successes        int64 `json:"successes"`
	Failures         int64 `json:"failures"`
	TotalDurationMs  int64 `json:"totalDurationMs"`
	TotalOutputBytes int64 `json:"totalOutputBytes"`
}

// BreakerSnapshot is the state of one circuit breaker key.
type BreakerSnapshot struct {
	Key                 string    `json:"key"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
}

// AuditEntry is one record from the server's audit trail. Params have
// already been redacted by the server.
type AuditEntry struct {
	TraceID     string                 `json:"trace_id"`
	ToolName    string                 `json:"tool_name"`
	AgentID     string                 `json:"agent_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Outcome     string                 `json:"outcome"`
	BlockReason string                 `json:"block_reason,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Error       string                 `json:"error,omitempty"`
	RiskLevel   string                 `json:"risk_level,omitempty"`
}

// AuditFilter narrows an audit query. Zero fields are unconstrained.
type AuditFilter struct {
	AgentID  string
	ToolName string
	Outcome  string
	Since    time.Time
	Limit    int
}
