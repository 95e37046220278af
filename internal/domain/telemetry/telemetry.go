// Package telemetry defines the fire-and-forget metrics port for tool
// invocations.
package telemetry

import "time"

// ToolStats are aggregated per-tool counters for admin queries.
type ToolStats struct {
	Calls            int64 `json:"calls"`
	Successes        int64 `json:"successes"`
	Failures         int64 `json:"failures"`
	TotalDurationMs  int64 `json:"totalDurationMs"`
	TotalOutputBytes int64 `json:"totalOutputBytes"`
}

// Sink records per-invocation measurements. Implementations must never
// block the caller or surface errors into the invocation result.
type Sink interface {
	// Record aggregates one executed invocation.
	Record(toolName, agentID string, duration time.Duration, success bool, outputSize int)

	// Snapshot returns the current per-tool aggregates.
	Snapshot() map[string]ToolStats
}

// NopSink discards all measurements. Used when telemetry is disabled at
// construction time rather than by policy.
type NopSink struct{}

// Record discards the measurement.
func (NopSink) Record(string, string, time.Duration, bool, int) {}

// Snapshot returns an empty map.
func (NopSink) Snapshot() map[string]ToolStats { return map[string]ToolStats{} }

var _ Sink = NopSink{}
