package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/audit"
)

func testEntry(tool, agent string, outcome audit.Outcome, ts time.Time) audit.Entry {
	return audit.Entry{
		TraceID:   "trace-" + tool,
		ToolName:  tool,
		AgentID:   agent,
		Timestamp: ts,
		Outcome:   outcome,
	}
}

func TestAuditStore_AppendWritesJSONLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewAuditStoreWithWriter(&buf)

	now := time.Now().UTC()
	err := s.Append(context.Background(),
		testEntry("grep", "agent-1", audit.OutcomeSucceeded, now),
		testEntry("fetch", "agent-1", audit.OutcomeBlocked, now),
	)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var e audit.Entry
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if e.ToolName != "grep" || e.Outcome != audit.OutcomeSucceeded {
		t.Errorf("round-tripped entry = %+v", e)
	}
}

func TestAuditStore_QueryFilters(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewAuditStoreWithWriter(&buf)

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	entries := []audit.Entry{
		testEntry("grep", "agent-1", audit.OutcomeSucceeded, base),
		testEntry("fetch", "agent-1", audit.OutcomeBlocked, base.Add(time.Minute)),
		testEntry("grep", "agent-2", audit.OutcomeFailed, base.Add(2*time.Minute)),
	}
	if err := s.Append(context.Background(), entries...); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter audit.Filter
		want   int
	}{
		{name: "all", filter: audit.Filter{}, want: 3},
		{name: "by agent", filter: audit.Filter{AgentID: "agent-1"}, want: 2},
		{name: "by tool", filter: audit.Filter{ToolName: "grep"}, want: 2},
		{name: "by outcome", filter: audit.Filter{Outcome: audit.OutcomeBlocked}, want: 1},
		{name: "by start time", filter: audit.Filter{StartTime: base.Add(90 * time.Second)}, want: 1},
		{name: "by end time", filter: audit.Filter{EndTime: base.Add(30 * time.Second)}, want: 1},
		{name: "limit", filter: audit.Filter{Limit: 2}, want: 2},
		{name: "combined", filter: audit.Filter{AgentID: "agent-1", ToolName: "fetch"}, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.Query(context.Background(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d entries, want %d", len(got), tt.want)
			}
		})
	}
}

func TestAuditStore_QueryMostRecentFirst(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewAuditStoreWithWriter(&buf)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := testEntry(fmt.Sprintf("tool-%d", i), "a", audit.OutcomeSucceeded, base.Add(time.Duration(i)*time.Second))
		if err := s.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].ToolName != "tool-2" || got[2].ToolName != "tool-0" {
		t.Errorf("expected most recent first, got %s..%s", got[0].ToolName, got[2].ToolName)
	}
}

func TestAuditStore_RingBufferEviction(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewAuditStoreWithWriter(&buf, 3)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		e := testEntry(fmt.Sprintf("tool-%d", i), "a", audit.OutcomeSucceeded, now)
		if err := s.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("ring buffer should hold 3 entries, got %d", len(got))
	}
	if got[0].ToolName != "tool-4" {
		t.Errorf("newest entry should survive eviction, got %s", got[0].ToolName)
	}

	// All five still reached the writer.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Errorf("writer should have all 5 lines, got %d", len(lines))
	}
}
