package audit

import (
	"context"
	"time"
)

// Store persists audit entries.
// Interface owned by domain per hexagonal architecture.
// Implementations handle batching and async writes; a Store failure must
// never surface to the tool caller.
type Store interface {
	// Append stores audit entries. Must be non-blocking from the caller's
	// perspective.
	Append(ctx context.Context, entries ...Entry) error

	// Flush forces pending entries to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log queries.
type Filter struct {
	// StartTime is the beginning of the time range.
	StartTime time.Time
	// EndTime is the end of the time range.
	EndTime time.Time
	// AgentID filters by invoking agent (optional).
	AgentID string
	// ToolName filters by tool (optional).
	ToolName string
	// Outcome filters by outcome (optional).
	Outcome Outcome
	// Limit is the maximum number of entries to return (default 100).
	Limit int
}

// QueryStore provides read access to stored entries for admin queries.
// Separate from Store, which handles the write path.
type QueryStore interface {
	// Query returns entries matching the filter, most recent first.
	Query(ctx context.Context, f Filter) ([]Entry, error)
}
