package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
)

// testClock is a manually advanced clock for deterministic refill timing.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newRateLimiterWithClock(clock.Now)
	key := ratelimit.Key{AgentID: "agent-1", ToolName: "grep"}
	cfg := ratelimit.BucketConfig{MaxTokens: 2, RefillPerSecond: 1}

	if err := r.Acquire(key, cfg); err != nil {
		t.Fatalf("first acquire should pass, got %v", err)
	}
	if err := r.Acquire(key, cfg); err != nil {
		t.Fatalf("second acquire should pass, got %v", err)
	}

	err := r.Acquire(key, cfg)
	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("third acquire should be denied, got %v", err)
	}
	if exceeded.RetryAfter <= 0 || exceeded.RetryAfter > time.Second {
		t.Errorf("retry after = %v, want in (0, 1s]", exceeded.RetryAfter)
	}
}

func TestRateLimiter_RefillAfterWait(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newRateLimiterWithClock(clock.Now)
	key := ratelimit.Key{AgentID: "agent-1", ToolName: "grep"}
	cfg := ratelimit.BucketConfig{MaxTokens: 2, RefillPerSecond: 1}

	for i := 0; i < 2; i++ {
		if err := r.Acquire(key, cfg); err != nil {
			t.Fatalf("acquire %d should pass, got %v", i, err)
		}
	}
	if err := r.Acquire(key, cfg); err == nil {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(time.Second)
	if err := r.Acquire(key, cfg); err != nil {
		t.Errorf("one second of refill should admit one call, got %v", err)
	}
	if err := r.Acquire(key, cfg); err == nil {
		t.Error("only one token should have been refilled")
	}
}

func TestRateLimiter_RefillCapsAtCapacity(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newRateLimiterWithClock(clock.Now)
	key := ratelimit.Key{AgentID: "agent-1", ToolName: "fetch"}
	cfg := ratelimit.BucketConfig{MaxTokens: 3, RefillPerSecond: 1}

	if err := r.Acquire(key, cfg); err != nil {
		t.Fatal(err)
	}

	// A long idle period refills at most back to capacity.
	clock.Advance(time.Hour)
	for i := 0; i < 3; i++ {
		if err := r.Acquire(key, cfg); err != nil {
			t.Fatalf("acquire %d after idle should pass, got %v", i, err)
		}
	}
	if err := r.Acquire(key, cfg); err == nil {
		t.Error("bucket must not exceed capacity after idle refill")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	r := newRateLimiterWithClock(clock.Now)
	cfg := ratelimit.BucketConfig{MaxTokens: 1, RefillPerSecond: 1}

	a := ratelimit.Key{AgentID: "agent-1", ToolName: "grep"}
	b := ratelimit.Key{AgentID: "agent-2", ToolName: "grep"}
	c := ratelimit.Key{AgentID: "agent-1", ToolName: "fetch"}

	if err := r.Acquire(a, cfg); err != nil {
		t.Fatal(err)
	}
	if err := r.Acquire(a, cfg); err == nil {
		t.Fatal("same key should be exhausted")
	}
	if err := r.Acquire(b, cfg); err != nil {
		t.Errorf("different agent should have its own bucket, got %v", err)
	}
	if err := r.Acquire(c, cfg); err != nil {
		t.Errorf("different tool should have its own bucket, got %v", err)
	}

	if got := r.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3", got)
	}
}

func TestRateLimiter_ZeroConfigFallsBackToSaneDefaults(t *testing.T) {
	t.Parallel()
	r := NewRateLimiter()
	key := ratelimit.Key{AgentID: "a", ToolName: "t"}

	if err := r.Acquire(key, ratelimit.BucketConfig{}); err != nil {
		t.Errorf("zero config should behave as a 1-token bucket, got %v", err)
	}
	if err := r.Acquire(key, ratelimit.BucketConfig{}); err == nil {
		t.Error("second immediate acquire on a 1-token bucket should be denied")
	}
}

func TestRateLimiter_ConcurrentAcquire(t *testing.T) {
	t.Parallel()
	r := NewRateLimiter()
	key := ratelimit.Key{AgentID: "agent-1", ToolName: "shell"}
	cfg := ratelimit.BucketConfig{MaxTokens: 50, RefillPerSecond: 0.001}

	const goroutines = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Acquire(key, cfg); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly the bucket capacity 50", allowed)
	}
}
