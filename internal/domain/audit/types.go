// Package audit contains domain types for tool invocation audit logging.
package audit

import (
	"strings"
	"time"
)

// Outcome classifies how an invocation attempt ended.
type Outcome string

const (
	// OutcomeSucceeded means the tool executed and returned a result.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed means the tool executed and failed or timed out.
	OutcomeFailed Outcome = "failed"
	// OutcomeBlocked means a validator, the rate limiter, or the circuit
	// breaker denied the call before the tool body ran.
	OutcomeBlocked Outcome = "blocked"
)

// Block reason codes recorded on blocked entries.
const (
	ReasonSandboxViolation  = "sandbox_violation"
	ReasonSSRFBlocked       = "ssrf_blocked"
	ReasonCommandBlocked    = "command_blocked"
	ReasonInvalidParams     = "invalid_params"
	ReasonRateLimited       = "rate_limited"
	ReasonCircuitOpen       = "circuit_open"
	ReasonPolicyUnavailable = "policy_unavailable"
)

// RedactionMarker replaces sensitive values before storage.
const RedactionMarker = "***REDACTED***"

// defaultRedactKeywords lists substrings that mark a parameter key as
// sensitive regardless of policy. Comparison is case-insensitive.
var defaultRedactKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// Entry is a single write-once audit record. Every invocation attempt
// produces exactly one Entry, whatever its outcome.
type Entry struct {
	// TraceID correlates the entry with the invocation's trace span.
	TraceID string `json:"trace_id"`
	// ToolName is the tool that was invoked.
	ToolName string `json:"tool_name"`
	// AgentID is the invoking agent.
	AgentID string `json:"agent_id"`
	// Timestamp is when the invocation was received (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Params are the invocation parameters after redaction.
	Params map[string]interface{} `json:"params,omitempty"`
	// Outcome is succeeded, failed, or blocked.
	Outcome Outcome `json:"outcome"`
	// BlockReason is set when Outcome is blocked.
	BlockReason string `json:"block_reason,omitempty"`
	// DurationMs is the tool execution time; zero for blocked calls.
	DurationMs int64 `json:"duration_ms,omitempty"`
	// Error is the failure message, subject to the same redaction rules.
	Error string `json:"error,omitempty"`
	// RiskLevel is the invoked tool's classified risk level.
	RiskLevel string `json:"risk_level,omitempty"`
}

// Redact returns a copy of params with sensitive values masked. A key is
// sensitive when it case-insensitively equals a policy redact key or
// contains one of the built-in sensitive keywords. Map and slice values are
// walked recursively; redaction never mutates the input.
func Redact(params map[string]interface{}, redactKeys []string) map[string]interface{} {
	if len(params) == 0 {
		return params
	}
	exact := make(map[string]struct{}, len(redactKeys))
	for _, k := range redactKeys {
		exact[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	out, _ := redactValue(params, exact).(map[string]interface{})
	return out
}

func redactValue(v interface{}, exact map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if isSensitiveKey(k, exact) {
				out[k] = RedactionMarker
				continue
			}
			out[k] = redactValue(inner, exact)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = redactValue(inner, exact)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string, exact map[string]struct{}) bool {
	lower := strings.ToLower(key)
	if _, ok := exact[lower]; ok {
		return true
	}
	for _, kw := range defaultRedactKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
