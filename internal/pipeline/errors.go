// Package pipeline composes the security validators, rate limiter, circuit
// breaker, audit sink, and telemetry sink around a tool's execute call.
package pipeline

import "fmt"

// DeniedError is returned when a stage blocks an invocation before the tool
// body runs. Reason is one of the audit block reason codes; Cause carries
// the typed validator or middleware error for errors.As inspection.
type DeniedError struct {
	ToolName string
	Reason   string
	Cause    error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("tool %q denied (%s): %v", e.ToolName, e.Reason, e.Cause)
}

func (e *DeniedError) Unwrap() error { return e.Cause }
