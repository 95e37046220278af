// Package service provides application-level services for toolgate.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and a
// background worker. Invocations are logged without adding latency to the
// pipeline hot path, and a slow or failing store never alters the caller's
// result — at worst entries are dropped and counted.
type AuditService struct {
	store         audit.Store
	entryChan     chan audit.Entry
	done          chan struct{}
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of entries to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending entries.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the entry channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.entryChan = make(chan audit.Entry, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:         store,
		entryChan:     make(chan audit.Entry, defaultChannelSize),
		done:          make(chan struct{}),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   defaultChannelSize,
		sendTimeout:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker. The worker drains the channel,
// batches entries, and flushes on batch size or interval.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Log queues one entry. Never blocks longer than the send timeout and
// never returns an error: audit failures must not affect the tool call.
func (s *AuditService) Log(entry audit.Entry) {
	if s.sendTimeout <= 0 {
		select {
		case s.entryChan <- entry:
		default:
			s.drop(entry)
		}
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.entryChan <- entry:
	case <-timer.C:
		s.drop(entry)
	}
}

func (s *AuditService) drop(entry audit.Entry) {
	n := s.dropCount.Add(1)
	s.logger.Warn("audit entry dropped due to backpressure",
		"tool", entry.ToolName,
		"agent_id", entry.AgentID,
		"total_drops", n)
}

// DroppedEntries returns the number of entries dropped under backpressure.
func (s *AuditService) DroppedEntries() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the current number of queued entries.
func (s *AuditService) ChannelDepth() int {
	return len(s.entryChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to drain and waits for it to exit.
func (s *AuditService) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *AuditService) run(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]audit.Entry, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Store failures are logged and swallowed; they must never
		// propagate to the tool caller.
		if err := s.store.Append(context.Background(), batch...); err != nil {
			s.logger.Error("audit store append failed", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			s.drain(&batch)
			flush()
			return
		case <-s.done:
			s.drain(&batch)
			flush()
			return
		}
	}
}

// drain moves any queued entries into the batch before the final flush.
func (s *AuditService) drain(batch *[]audit.Entry) {
	for {
		select {
		case entry := <-s.entryChan:
			*batch = append(*batch, entry)
		default:
			return
		}
	}
}
