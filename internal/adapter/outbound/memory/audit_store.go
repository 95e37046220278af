package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/agenticmail/toolgate/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store writing JSON lines to a writer
// (stdout by default) and keeping a bounded in-memory ring buffer of the
// most recent entries for admin queries.
type AuditStore struct {
	encoder *json.Encoder
	mu      sync.Mutex
	// recent is a bounded ring buffer of the most recent entries.
	recent []audit.Entry
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates an audit store writing to stdout.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStore(capacity ...int) *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to the given writer.
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *AuditStore {
	c := resolveCapacity(capacity...)
	return &AuditStore{
		encoder: json.NewEncoder(w),
		recent:  make([]audit.Entry, 0, c),
		cap:     c,
	}
}

// Append writes entries as JSON lines and records them in the ring buffer.
func (s *AuditStore) Append(ctx context.Context, entries ...audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if err := s.encoder.Encode(e); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = e
		} else {
			s.recent = append(s.recent, e)
		}
	}
	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *AuditStore) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the store does not own the writer.
func (s *AuditStore) Close() error { return nil }

// Query returns buffered entries matching the filter, most recent first.
func (s *AuditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []audit.Entry
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.recent[i]
		if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
			continue
		}
		if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
			continue
		}
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.ToolName != "" && e.ToolName != f.ToolName {
			continue
		}
		if f.Outcome != "" && e.Outcome != f.Outcome {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
