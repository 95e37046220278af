// Package clickhouse implements an audit store that batch-inserts entries
// into a ClickHouse table. Appends are buffered and written by a background
// goroutine so the execution path never waits on the database.
package clickhouse

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/agenticmail/toolgate/internal/domain/audit"
)

const (
	bufferSize    = 10_000
	flushInterval = 1 * time.Second
	flushBatch    = 500
	drainTimeout  = 2 * time.Second
	insertTimeout = 5 * time.Second
)

const insertQuery = `
	INSERT INTO tool_audit_entries (
		trace_id, tool_name, agent_id, timestamp, params_json,
		outcome, block_reason, duration_ms, error, risk_level
	)
`

// Store implements audit.Store backed by ClickHouse.
type Store struct {
	conn    driver.Conn
	buffer  chan audit.Entry
	done    chan struct{}
	flushed chan struct{}
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewStore connects to ClickHouse using the given DSN and starts the
// background flush loop. The connection is verified with a ping before the
// store is returned.
func NewStore(dsn string, logger *slog.Logger) (*Store, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &Store{
		conn:    conn,
		buffer:  make(chan audit.Entry, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go s.flushLoop()
	return s, nil
}

// Append queues entries for async insertion. Non-blocking: entries are
// dropped with a warning when the buffer is full.
func (s *Store) Append(_ context.Context, entries ...audit.Entry) error {
	for _, e := range entries {
		select {
		case s.buffer <- e:
		default:
			s.dropped.Add(1)
			s.logger.Warn("clickhouse buffer full, dropping audit entry",
				"trace_id", e.TraceID,
				"tool", e.ToolName)
		}
	}
	return nil
}

// Flush is a no-op for the caller; the flush loop writes on its own interval
// and Close drains the buffer.
func (s *Store) Flush(_ context.Context) error {
	return nil
}

// Close signals the flush loop to drain remaining entries and waits for it.
func (s *Store) Close() error {
	close(s.done)
	<-s.flushed
	return s.conn.Close()
}

// Dropped returns the number of entries discarded due to a full buffer.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Store) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]audit.Entry, 0, flushBatch)

	for {
		select {
		case e := <-s.buffer:
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				s.insert(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.insert(batch)
				batch = batch[:0]
			}
		case <-s.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drain:
			for {
				select {
				case e := <-s.buffer:
					batch = append(batch, e)
				case <-drainCtx.Done():
					break drain
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				s.insert(batch)
			}
			return
		}
	}
}

func (s *Store) insert(entries []audit.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		s.logger.Error("clickhouse prepare batch failed", "error", err)
		return
	}

	for _, e := range entries {
		paramsJSON, err := json.Marshal(e.Params)
		if err != nil {
			paramsJSON = []byte("{}")
		}

		if err := batch.Append(
			e.TraceID,
			e.ToolName,
			e.AgentID,
			e.Timestamp,
			string(paramsJSON),
			string(e.Outcome),
			e.BlockReason,
			e.DurationMs,
			e.Error,
			e.RiskLevel,
		); err != nil {
			s.logger.Error("clickhouse append entry failed",
				"trace_id", e.TraceID,
				"error", err)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed",
			"batch_size", len(entries),
			"error", err)
	}
}

// Compile-time interface verification.
var _ audit.Store = (*Store)(nil)
