// Package tool defines the contract every tool must satisfy to run under
// the execution pipeline, plus the risk classifier used for audit records.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// SideEffect declares a category of externally visible effect a tool may
// have. The pipeline runs only the validators relevant to the categories a
// tool declares.
type SideEffect string

const (
	// SideEffectFilesystem marks tools that read or write the filesystem.
	SideEffectFilesystem SideEffect = "filesystem"
	// SideEffectNetwork marks tools that open outbound connections.
	SideEffectNetwork SideEffect = "network"
	// SideEffectShell marks tools that run shell commands.
	SideEffectShell SideEffect = "shell"
)

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	// Type is the block type; "text" is the only type produced by the
	// built-in tools.
	Type string `json:"type"`
	// Text is the block payload for text blocks.
	Text string `json:"text"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// Result is a successful tool execution result. The pipeline returns it to
// the caller unmodified.
type Result struct {
	// Content carries the user-visible output blocks.
	Content []ContentBlock `json:"content"`
	// Details carries optional structured data alongside the content.
	Details map[string]interface{} `json:"details,omitempty"`
}

// TextResult builds a Result with a single text block.
func TextResult(text string) *Result {
	return &Result{Content: []ContentBlock{TextBlock(text)}}
}

// Size returns the total byte length of the result's text content,
// used for telemetry output-size metrics.
func (r *Result) Size() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, b := range r.Content {
		n += len(b.Text)
	}
	return n
}

// Tool is the contract the pipeline wraps. Tools do not see policy
// internals; a wrapped tool only observes the final allow/deny outcome via
// the error returned from the pipeline.
type Tool interface {
	// Name is the unique tool identifier.
	Name() string
	// Description is the human-readable tool description.
	Description() string
	// InputSchema is the JSON Schema for the tool's parameters. May be nil
	// for tools without a declared schema; the pipeline then skips schema
	// validation.
	InputSchema() json.RawMessage
	// SideEffects declares which effect categories the tool touches.
	SideEffects() []SideEffect
	// Execute runs the tool. Implementations must honor ctx cancellation;
	// subprocess-backed tools must kill their subprocess rather than
	// abandon it.
	Execute(ctx context.Context, params map[string]interface{}) (*Result, error)
}

// ExecutionError wraps a tool failure with the tool's identity so callers
// and the audit trail can attribute it.
type ExecutionError struct {
	ToolName string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.ToolName, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError marks an execution that exceeded the pipeline's hard timeout.
// Treated identically to any other execution failure by the breaker.
type TimeoutError struct {
	ToolName string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q timed out", e.ToolName)
}
