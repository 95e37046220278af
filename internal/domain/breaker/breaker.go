// Package breaker provides the circuit breaker domain types for isolating
// repeatedly failing tools.
package breaker

import (
	"fmt"
	"time"
)

// State is the circuit breaker state for one key.
type State string

const (
	// StateClosed admits calls and counts consecutive failures.
	StateClosed State = "closed"
	// StateOpen denies calls until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen admits the next call as a probe.
	StateHalfOpen State = "half_open"
)

// Config controls breaker transitions.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. The documented default is 5.
	FailureThreshold int
	// Cooldown is how long an open breaker waits before admitting a probe.
	// The documented default is 30 seconds.
	Cooldown time.Duration
}

// DefaultConfig returns the documented defaults: 5 consecutive failures,
// 30 second cooldown. These are configurable, not a hard contract.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// OpenError is returned by Check while the breaker denies calls.
type OpenError struct {
	// ToolName is the breaker key that is open.
	ToolName string
	// RetryAfter is how long until the cooldown elapses.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for tool %q, retry after %v", e.ToolName, e.RetryAfter)
}

// Snapshot is a read-only view of one breaker's state for admin queries.
type Snapshot struct {
	Key                 string    `json:"key"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitzero"`
}

// Breaker is the failure-isolation port. Keys are tool names, or
// "agentID/toolName" when the policy scopes breakers per agent.
type Breaker interface {
	// Check must be called before every execution attempt. It returns nil
	// when the call may proceed or *OpenError when the breaker is open.
	// Check performs the open-to-half-open transition as a side effect once
	// the cooldown has elapsed.
	Check(key string, cfg Config) error

	// Record must be called exactly once per executed (non-denied)
	// invocation and drives the closed/open/half-open transitions.
	Record(key string, success bool, cfg Config)

	// Snapshots returns the current state of all tracked breakers.
	Snapshots() []Snapshot
}
