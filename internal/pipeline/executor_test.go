package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agenticmail/toolgate/internal/domain/audit"
	"github.com/agenticmail/toolgate/internal/domain/breaker"
	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
	"github.com/agenticmail/toolgate/internal/domain/telemetry"
	"github.com/agenticmail/toolgate/internal/domain/tool"
)

// fakeTool is a scriptable tool for pipeline tests.
type fakeTool struct {
	name        string
	sideEffects []tool.SideEffect
	schema      json.RawMessage
	execute     func(ctx context.Context, params map[string]interface{}) (*tool.Result, error)
	calls       int
	mu          sync.Mutex
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Description() string { return "test tool" }

func (f *fakeTool) InputSchema() json.RawMessage { return f.schema }

func (f *fakeTool) SideEffects() []tool.SideEffect { return f.sideEffects }

func (f *fakeTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return tool.TextResult("ok"), nil
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// staticSource serves a fixed policy.
type staticSource struct {
	def    policy.ToolSecurity
	defErr error
}

func (s *staticSource) OrgDefault(context.Context) (policy.ToolSecurity, error) {
	return s.def, s.defErr
}

func (s *staticSource) AgentOverride(context.Context, string) (*policy.Override, error) {
	return nil, nil
}

// captureAuditor records entries synchronously.
type captureAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *captureAuditor) Log(entry audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *captureAuditor) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

// fakeLimiter admits or denies by script.
type fakeLimiter struct {
	mu       sync.Mutex
	err      error
	acquired []ratelimit.Key
}

func (l *fakeLimiter) Acquire(key ratelimit.Key, _ ratelimit.BucketConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.acquired = append(l.acquired, key)
	return nil
}

func (l *fakeLimiter) acquireCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.acquired)
}

// fakeBreaker records Check/Record calls.
type fakeBreaker struct {
	mu       sync.Mutex
	checkErr error
	records  []bool
}

func (b *fakeBreaker) Check(string, breaker.Config) error { return b.checkErr }

func (b *fakeBreaker) Record(_ string, success bool, _ breaker.Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, success)
}

func (b *fakeBreaker) Snapshots() []breaker.Snapshot { return nil }

func (b *fakeBreaker) recorded() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.records...)
}

// fakeSink records telemetry observations.
type fakeSink struct {
	mu      sync.Mutex
	records int
}

func (s *fakeSink) Record(string, string, time.Duration, bool, int) {
	s.mu.Lock()
	s.records++
	s.mu.Unlock()
}

func (s *fakeSink) Snapshot() map[string]telemetry.ToolStats { return nil }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

type deps struct {
	source  *staticSource
	limiter *fakeLimiter
	breaker *fakeBreaker
	auditor *captureAuditor
	sink    *fakeSink
}

func newDeps() *deps {
	return &deps{
		source:  &staticSource{def: policy.DefaultToolSecurity()},
		limiter: &fakeLimiter{},
		breaker: &fakeBreaker{},
		auditor: &captureAuditor{},
		sink:    &fakeSink{},
	}
}

func newTestExecutor(d *deps, opts ...Option) *Executor {
	return NewExecutor(d.source, d.limiter, d.breaker, d.auditor, d.sink, slog.Default(), opts...)
}

func TestExecutor_SuccessPath(t *testing.T) {
	t.Parallel()
	d := newDeps()
	e := newTestExecutor(d)
	ft := &fakeTool{name: "grep"}

	res, err := e.Invoke(context.Background(), ft, "agent-1", map[string]interface{}{"pattern": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Content[0].Text != "ok" {
		t.Fatalf("result = %+v", res)
	}

	entries := d.auditor.all()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want exactly 1", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeSucceeded {
		t.Errorf("outcome = %q, want succeeded", entries[0].Outcome)
	}
	if entries[0].TraceID == "" {
		t.Error("entry should carry a trace id")
	}
	if got := d.breaker.recorded(); len(got) != 1 || !got[0] {
		t.Errorf("breaker records = %v, want one success", got)
	}
	if d.sink.count() != 1 {
		t.Errorf("telemetry records = %d, want 1", d.sink.count())
	}
}

func TestExecutor_PolicyResolutionFailureFailsClosed(t *testing.T) {
	t.Parallel()
	d := newDeps()
	d.source.defErr = errors.New("settings api down")
	e := newTestExecutor(d)
	ft := &fakeTool{name: "grep"}

	_, err := e.Invoke(context.Background(), ft, "agent-1", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Reason != audit.ReasonPolicyUnavailable {
		t.Errorf("reason = %q, want policy_unavailable", denied.Reason)
	}
	if ft.callCount() != 0 {
		t.Error("tool must not run when policy cannot be resolved")
	}

	// The denial is still audited under the built-in defaults.
	entries := d.auditor.all()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeBlocked {
		t.Fatalf("entries = %+v, want one blocked entry", entries)
	}
}

func TestExecutor_ValidatorDenialSpendsNoToken(t *testing.T) {
	t.Parallel()
	d := newDeps()
	e := newTestExecutor(d)
	ft := &fakeTool{name: "reader", sideEffects: []tool.SideEffect{tool.SideEffectFilesystem}}

	d.source.def.Security.PathSandbox = policy.PathSandboxPolicy{
		Enabled:         true,
		BlockedPatterns: []string{`/etc/`},
	}

	_, err := e.Invoke(context.Background(), ft, "agent-1", map[string]interface{}{"path": "/etc/passwd"})
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Reason != audit.ReasonSandboxViolation {
		t.Errorf("reason = %q, want sandbox_violation", denied.Reason)
	}
	var sv *guard.SandboxViolationError
	if !errors.As(err, &sv) {
		t.Error("the typed validator error should unwrap from the denial")
	}

	if d.limiter.acquireCount() != 0 {
		t.Error("a blocked call must not spend a rate limit token")
	}
	if len(d.breaker.recorded()) != 0 {
		t.Error("a blocked call must not drive the breaker")
	}
	if ft.callCount() != 0 {
		t.Error("tool must not run after a denial")
	}
	if entries := d.auditor.all(); len(entries) != 1 || entries[0].BlockReason != audit.ReasonSandboxViolation {
		t.Errorf("entries = %+v, want one blocked entry with sandbox_violation", entries)
	}
}

func TestExecutor_RateLimitDenial(t *testing.T) {
	t.Parallel()
	d := newDeps()
	d.limiter.err = &ratelimit.ExceededError{RetryAfter: 700 * time.Millisecond}
	e := newTestExecutor(d)
	ft := &fakeTool{name: "grep"}

	_, err := e.Invoke(context.Background(), ft, "agent-1", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != audit.ReasonRateLimited {
		t.Fatalf("expected rate_limited denial, got %v", err)
	}
	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) || exceeded.RetryAfter != 700*time.Millisecond {
		t.Errorf("retry delay should unwrap from the denial, got %v", err)
	}
	if len(d.breaker.recorded()) != 0 {
		t.Error("rate limit denials must not drive the breaker")
	}
}

func TestExecutor_OpenBreakerDenial(t *testing.T) {
	t.Parallel()
	d := newDeps()
	d.breaker.checkErr = &breaker.OpenError{ToolName: "fetch", RetryAfter: 12 * time.Second}
	e := newTestExecutor(d)
	ft := &fakeTool{name: "fetch"}

	_, err := e.Invoke(context.Background(), ft, "agent-1", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != audit.ReasonCircuitOpen {
		t.Fatalf("expected circuit_open denial, got %v", err)
	}
	if ft.callCount() != 0 {
		t.Error("tool must not run while the circuit is open")
	}
	if len(d.breaker.recorded()) != 0 {
		t.Error("a breaker denial must not be recorded as an outcome")
	}
}

func TestExecutor_ExecutionFailureRecordedOnce(t *testing.T) {
	t.Parallel()
	d := newDeps()
	e := newTestExecutor(d)
	ft := &fakeTool{
		name: "fetch",
		execute: func(context.Context, map[string]interface{}) (*tool.Result, error) {
			return nil, errors.New("upstream 502")
		},
	}

	_, err := e.Invoke(context.Background(), ft, "agent-1", nil)
	var execErr *tool.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}

	if got := d.breaker.recorded(); len(got) != 1 || got[0] {
		t.Errorf("breaker records = %v, want one failure", got)
	}
	entries := d.auditor.all()
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeFailed {
		t.Fatalf("entries = %+v, want one failed entry", entries)
	}
	if entries[0].Error == "" {
		t.Error("failed entry should carry the error message")
	}
}

func TestExecutor_TimeoutProducesTimeoutError(t *testing.T) {
	t.Parallel()
	d := newDeps()
	e := newTestExecutor(d, WithExecTimeout(30*time.Millisecond))
	ft := &fakeTool{
		name: "shell",
		execute: func(ctx context.Context, _ map[string]interface{}) (*tool.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	_, err := e.Invoke(context.Background(), ft, "agent-1", nil)
	var timeout *tool.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if got := d.breaker.recorded(); len(got) != 1 || got[0] {
		t.Errorf("a timeout counts as a breaker failure, got %v", got)
	}
	if entries := d.auditor.all(); len(entries) != 1 || entries[0].Outcome != audit.OutcomeFailed {
		t.Errorf("entries = %+v, want one failed entry", entries)
	}
}

func TestExecutor_SchemaValidation(t *testing.T) {
	t.Parallel()
	d := newDeps()
	e := newTestExecutor(d)
	ft := &fakeTool{
		name: "grep",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {"pattern": {"type": "string"}},
			"required": ["pattern"]
		}`),
	}

	// Missing required parameter.
	_, err := e.Invoke(context.Background(), ft, "agent-1", map[string]interface{}{})
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != audit.ReasonInvalidParams {
		t.Fatalf("expected invalid_params denial, got %v", err)
	}
	if ft.callCount() != 0 {
		t.Error("tool must not run with invalid params")
	}

	// Valid parameters pass.
	if _, err := e.Invoke(context.Background(), ft, "agent-1", map[string]interface{}{"pattern": "x"}); err != nil {
		t.Errorf("valid params should pass schema validation, got %v", err)
	}
}

func TestExecutor_DisabledMiddlewareSkipsBookkeeping(t *testing.T) {
	t.Parallel()
	d := newDeps()
	d.source.def.Middleware.RateLimit.Enabled = false
	d.source.def.Middleware.CircuitBreaker.Enabled = false
	d.source.def.Middleware.Telemetry.Enabled = false
	d.source.def.Middleware.Audit.Enabled = false
	e := newTestExecutor(d)
	ft := &fakeTool{name: "grep"}

	if _, err := e.Invoke(context.Background(), ft, "agent-1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.limiter.acquireCount() != 0 {
		t.Error("disabled rate limit policy should skip the limiter")
	}
	if len(d.breaker.recorded()) != 0 {
		t.Error("disabled breaker policy should skip recording")
	}
	if d.sink.count() != 0 {
		t.Error("disabled telemetry policy should skip the sink")
	}
	if len(d.auditor.all()) != 0 {
		t.Error("disabled audit policy should skip the audit entry")
	}
}

func TestExecutor_AuditParamsAreRedacted(t *testing.T) {
	t.Parallel()
	d := newDeps()
	e := newTestExecutor(d)
	ft := &fakeTool{name: "fetch"}

	params := map[string]interface{}{
		"url":     "https://example.com",
		"api_key": "sk-live-123",
	}
	if _, err := e.Invoke(context.Background(), ft, "agent-1", params); err != nil {
		t.Fatal(err)
	}

	entries := d.auditor.all()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Params["api_key"] != audit.RedactionMarker {
		t.Errorf("api_key = %v, want redaction marker", entries[0].Params["api_key"])
	}
	if entries[0].Params["url"] != "https://example.com" {
		t.Errorf("url should be untouched, got %v", entries[0].Params["url"])
	}
	// The caller's map is never mutated.
	if params["api_key"] != "sk-live-123" {
		t.Error("redaction must not mutate the caller's params")
	}
}

func TestExecutor_PerToolRateLimitOverride(t *testing.T) {
	t.Parallel()
	d := newDeps()
	d.source.def.Middleware.RateLimit.Overrides = map[string]policy.RateLimitOverride{
		"shell": {MaxTokens: 1, RefillPerSecond: 0.001},
	}
	// Real limiter to observe the override taking effect.
	limiter := newRecordingRealLimiter()
	e := NewExecutor(d.source, limiter, d.breaker, d.auditor, d.sink, slog.Default())
	ft := &fakeTool{name: "shell"}

	if _, err := e.Invoke(context.Background(), ft, "agent-1", nil); err != nil {
		t.Fatalf("first call should pass, got %v", err)
	}
	_, err := e.Invoke(context.Background(), ft, "agent-1", nil)
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != audit.ReasonRateLimited {
		t.Fatalf("override capacity of 1 should deny the second call, got %v", err)
	}
	if got := limiter.lastCfg.MaxTokens; got != 1 {
		t.Errorf("limiter saw MaxTokens = %v, want the per-tool override 1", got)
	}
}

// recordingRealLimiter enforces a real bucket while capturing the config
// the stage passed in.
type recordingRealLimiter struct {
	mu      sync.Mutex
	tokens  map[ratelimit.Key]float64
	lastCfg ratelimit.BucketConfig
}

func newRecordingRealLimiter() *recordingRealLimiter {
	return &recordingRealLimiter{tokens: make(map[ratelimit.Key]float64)}
}

func (l *recordingRealLimiter) Acquire(key ratelimit.Key, cfg ratelimit.BucketConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastCfg = cfg
	if _, ok := l.tokens[key]; !ok {
		l.tokens[key] = cfg.MaxTokens
	}
	if l.tokens[key] >= 1 {
		l.tokens[key]--
		return nil
	}
	return &ratelimit.ExceededError{RetryAfter: time.Second}
}
