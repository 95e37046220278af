// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
)

// shardCount is the number of independent bucket maps. Sharding keeps
// unrelated (agent, tool) keys from contending on one mutex.
const shardCount = 32

// tokenBucket tracks one key's admission state.
type tokenBucket struct {
	tokens       float64
	lastRefillAt time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	buckets map[ratelimit.Key]*tokenBucket
}

// RateLimiter implements ratelimit.Limiter with a sharded in-memory
// token-bucket registry. Buckets are created lazily on first acquisition.
type RateLimiter struct {
	shards [shardCount]*limiterShard
	now    func() time.Time
}

// NewRateLimiter creates an in-memory rate limiter.
func NewRateLimiter() *RateLimiter {
	r := &RateLimiter{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &limiterShard{buckets: make(map[ratelimit.Key]*tokenBucket)}
	}
	return r
}

// newRateLimiterWithClock is used by tests to control refill timing.
func newRateLimiterWithClock(now func() time.Time) *RateLimiter {
	r := NewRateLimiter()
	r.now = now
	return r
}

func (r *RateLimiter) shard(key ratelimit.Key) *limiterShard {
	return r.shards[xxhash.Sum64String(key.String())%shardCount]
}

// Acquire refills the key's bucket by elapsed time, capped at capacity,
// then consumes one token or reports the retry delay. A denied acquisition
// leaves the bucket state untouched beyond the refill.
func (r *RateLimiter) Acquire(key ratelimit.Key, cfg ratelimit.BucketConfig) error {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = 1
	}

	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := r.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: cfg.MaxTokens, lastRefillAt: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefillAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * cfg.RefillPerSecond
		if b.tokens > cfg.MaxTokens {
			b.tokens = cfg.MaxTokens
		}
	}
	b.lastRefillAt = now

	if b.tokens >= 1 {
		b.tokens--
		return nil
	}

	retryAfter := time.Duration((1 - b.tokens) / cfg.RefillPerSecond * float64(time.Second))
	return &ratelimit.ExceededError{RetryAfter: retryAfter}
}

// Size returns the number of tracked keys across all shards.
// Useful for testing and monitoring memory usage.
func (r *RateLimiter) Size() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.buckets)
		s.mu.Unlock()
	}
	return total
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
