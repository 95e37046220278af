package memory

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agenticmail/toolgate/internal/domain/breaker"
)

// breakerState tracks one key's circuit state. States are created lazily
// and start closed.
type breakerState struct {
	state               breaker.State
	consecutiveFailures int
	openedAt            time.Time
	// probing is true while the single half-open probe call is in flight
	// and has not yet been recorded.
	probing bool
}

type breakerShard struct {
	mu     sync.Mutex
	states map[string]*breakerState
}

// CircuitBreaker implements breaker.Breaker with a sharded in-memory state
// registry, so breakers for unrelated tools never contend on one lock.
type CircuitBreaker struct {
	shards [shardCount]*breakerShard
	now    func() time.Time
}

// NewCircuitBreaker creates an in-memory circuit breaker registry.
func NewCircuitBreaker() *CircuitBreaker {
	b := &CircuitBreaker{now: time.Now}
	for i := range b.shards {
		b.shards[i] = &breakerShard{states: make(map[string]*breakerState)}
	}
	return b
}

// newCircuitBreakerWithClock is used by tests to control cooldown timing.
func newCircuitBreakerWithClock(now func() time.Time) *CircuitBreaker {
	b := NewCircuitBreaker()
	b.now = now
	return b
}

func (b *CircuitBreaker) shard(key string) *breakerShard {
	return b.shards[xxhash.Sum64String(key)%shardCount]
}

func (b *CircuitBreaker) get(s *breakerShard, key string) *breakerState {
	st, ok := s.states[key]
	if !ok {
		st = &breakerState{state: breaker.StateClosed}
		s.states[key] = st
	}
	return st
}

// Check admits or denies a call. An open breaker whose cooldown has elapsed
// transitions to half-open here and admits exactly this call as a probe.
func (b *CircuitBreaker) Check(key string, cfg breaker.Config) error {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = breaker.DefaultConfig().Cooldown
	}

	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := b.get(s, key)
	switch st.state {
	case breaker.StateOpen:
		elapsed := b.now().Sub(st.openedAt)
		if elapsed < cfg.Cooldown {
			return &breaker.OpenError{ToolName: key, RetryAfter: cfg.Cooldown - elapsed}
		}
		st.state = breaker.StateHalfOpen
		st.probing = true
		return nil
	case breaker.StateHalfOpen:
		// One probe at a time: further calls wait until the in-flight
		// probe is recorded.
		if st.probing {
			return &breaker.OpenError{ToolName: key, RetryAfter: time.Second}
		}
		st.probing = true
		return nil
	default:
		return nil
	}
}

// Record drives the state machine from an executed call's outcome.
func (b *CircuitBreaker) Record(key string, success bool, cfg breaker.Config) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = breaker.DefaultConfig().FailureThreshold
	}

	s := b.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	st := b.get(s, key)
	st.probing = false
	if success {
		st.state = breaker.StateClosed
		st.consecutiveFailures = 0
		st.openedAt = time.Time{}
		return
	}

	if st.state == breaker.StateHalfOpen {
		// Failed probe: reopen and restart the cooldown.
		st.state = breaker.StateOpen
		st.openedAt = b.now()
		return
	}

	st.consecutiveFailures++
	if st.consecutiveFailures >= cfg.FailureThreshold {
		st.state = breaker.StateOpen
		st.openedAt = b.now()
	}
}

// Snapshots returns the current state of all tracked breakers.
func (b *CircuitBreaker) Snapshots() []breaker.Snapshot {
	var out []breaker.Snapshot
	for _, s := range b.shards {
		s.mu.Lock()
		for key, st := range s.states {
			out = append(out, breaker.Snapshot{
				Key:                 key,
				State:               st.state,
				ConsecutiveFailures: st.consecutiveFailures,
				OpenedAt:            st.openedAt,
			})
		}
		s.mu.Unlock()
	}
	return out
}

// Compile-time interface verification.
var _ breaker.Breaker = (*CircuitBreaker)(nil)
