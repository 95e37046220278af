// Package ratelimit provides token-bucket admission control domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// BucketConfig defines token bucket parameters for one (agent, tool) key.
type BucketConfig struct {
	// MaxTokens is the bucket capacity (burst size). Must be >= 1.
	MaxTokens float64
	// RefillPerSecond is the continuous refill rate.
	RefillPerSecond float64
}

// DefaultBucketConfig matches the documented default of 60 calls per minute
// with a small burst allowance.
func DefaultBucketConfig() BucketConfig {
	return BucketConfig{MaxTokens: 60, RefillPerSecond: 1}
}

// Key identifies one bucket. Buckets are scoped per agent and tool so one
// busy agent cannot starve another.
type Key struct {
	AgentID  string
	ToolName string
}

func (k Key) String() string {
	return k.AgentID + "/" + k.ToolName
}

// ExceededError is returned when a bucket has no token available.
type ExceededError struct {
	// RetryAfter is how long until one token will have refilled.
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %v", e.RetryAfter)
}

// Limiter is the admission-control port. Implementations must be safe for
// concurrent use across many agents and tools without a global serialization
// point; contention is acceptable only within a single key.
type Limiter interface {
	// Acquire refills the bucket for key by elapsed time (capped at
	// MaxTokens), then attempts to consume one token. It returns nil on
	// success or *ExceededError carrying the retry delay; the failed
	// attempt must not mutate bucket state further.
	Acquire(key Key, cfg BucketConfig) error
}
