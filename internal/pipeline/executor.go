package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agenticmail/toolgate/internal/domain/audit"
	"github.com/agenticmail/toolgate/internal/domain/breaker"
	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
	"github.com/agenticmail/toolgate/internal/domain/telemetry"
	"github.com/agenticmail/toolgate/internal/domain/tool"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// Auditor receives one entry per invocation attempt. Implementations must
// not block and must swallow their own failures.
type Auditor interface {
	Log(entry audit.Entry)
}

// Executor is the pipeline driver. It resolves policy per invocation, runs
// the admission stages in order, executes the tool under a hard timeout,
// and performs breaker, audit, and telemetry bookkeeping exactly once per
// attempt.
type Executor struct {
	policies policy.Source
	stages   []Stage
	breaker  breaker.Breaker
	breakCfg breaker.Config
	auditor  Auditor
	sink     telemetry.Sink
	timeout  time.Duration
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithExecTimeout sets the hard per-invocation execution timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBreakerConfig overrides the breaker thresholds.
func WithBreakerConfig(cfg breaker.Config) Option {
	return func(e *Executor) { e.breakCfg = cfg }
}

// WithRateLimitDefaults overrides the default bucket parameters used for
// tools without a per-tool override.
func WithRateLimitDefaults(cfg ratelimit.BucketConfig) Option {
	return func(e *Executor) {
		for i, s := range e.stages {
			if rl, ok := s.(RateLimitStage); ok {
				rl.Defaults = cfg
				e.stages[i] = rl
			}
		}
	}
}

// WithTracer sets the tracer used for invocation spans. The default is a
// no-op tracer; trace IDs then fall back to random UUIDs.
func WithTracer(tr trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tr }
}

// NewExecutor wires the full stage list in its canonical order: schema,
// path sandbox, SSRF guard, command sanitizer, rate limiter, circuit
// breaker, then execution.
func NewExecutor(
	policies policy.Source,
	limiter ratelimit.Limiter,
	brk breaker.Breaker,
	auditor Auditor,
	sink telemetry.Sink,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		policies: policies,
		breaker:  brk,
		breakCfg: breaker.DefaultConfig(),
		auditor:  auditor,
		sink:     sink,
		timeout:  DefaultExecTimeout,
		tracer:   noop.NewTracerProvider().Tracer("toolgate"),
		logger:   logger,
	}
	e.stages = []Stage{
		SchemaStage{},
		SandboxStage{Sandbox: guard.NewPathSandbox()},
		SSRFStage{Guard: guard.NewSSRFGuard()},
		CommandStage{Sanitizer: guard.NewCommandSanitizer()},
		RateLimitStage{Limiter: limiter, Defaults: ratelimit.DefaultBucketConfig()},
	}
	for _, opt := range opts {
		opt(e)
	}
	// The breaker stage shares the executor's config so option ordering
	// does not matter.
	e.stages = append(e.stages, BreakerStage{Breaker: brk, Config: e.breakCfg})
	return e
}

// Invoke runs one tool call through the pipeline. It returns the tool's
// result unmodified on success, a *DeniedError when any stage blocks the
// call, or a *tool.ExecutionError / *tool.TimeoutError on failure. Every
// path writes exactly one audit entry.
func (e *Executor) Invoke(ctx context.Context, t tool.Tool, agentID string, params map[string]interface{}) (*tool.Result, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", t.Name()),
			attribute.String("agent.id", agentID),
		))
	defer span.End()

	inv := &Invocation{
		Tool:    t,
		AgentID: agentID,
		Params:  params,
		TraceID: traceID(span),
	}

	resolved, err := policy.ResolveFor(ctx, e.policies, agentID)
	if err != nil {
		// Fail closed: no policy, no execution. The denial is still
		// audited under the built-in defaults.
		denied := &DeniedError{ToolName: t.Name(), Reason: audit.ReasonPolicyUnavailable, Cause: err}
		e.logger.Error("policy resolution failed, denying invocation",
			"tool", t.Name(), "agent_id", agentID, "error", err)
		inv.Policy = policy.DefaultToolSecurity()
		e.audit(inv, audit.OutcomeBlocked, denied.Reason, 0, denied.Cause)
		span.SetStatus(codes.Error, denied.Reason)
		return nil, denied
	}
	inv.Policy = resolved

	for _, stage := range e.stages {
		if denied := stage.Admit(ctx, inv); denied != nil {
			e.logger.Warn("invocation blocked",
				"tool", t.Name(), "agent_id", agentID,
				"stage", stage.Name(), "reason", denied.Reason)
			e.audit(inv, audit.OutcomeBlocked, denied.Reason, 0, denied.Cause)
			span.SetStatus(codes.Error, denied.Reason)
			return nil, denied
		}
	}

	start := time.Now()
	result, execErr := e.execute(ctx, inv)
	elapsed := time.Since(start)
	success := execErr == nil

	if inv.Policy.Middleware.CircuitBreaker.Enabled {
		e.breaker.Record(breakerKey(inv), success, e.breakCfg)
	}
	if success {
		e.audit(inv, audit.OutcomeSucceeded, "", elapsed, nil)
	} else {
		e.audit(inv, audit.OutcomeFailed, "", elapsed, execErr)
		span.SetStatus(codes.Error, "execution_failed")
	}
	if inv.Policy.Middleware.Telemetry.Enabled {
		e.sink.Record(t.Name(), agentID, elapsed, success, result.Size())
	}

	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

// execute runs the tool body under the hard timeout. The tool receives a
// context that is cancelled on timeout or caller cancellation, so
// subprocess-backed tools can kill their child; if the tool ignores the
// cancellation the pipeline abandons it and returns anyway.
func (e *Executor) execute(ctx context.Context, inv *Invocation) (*tool.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result *tool.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := inv.Tool.Execute(execCtx, inv.Params)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, &tool.TimeoutError{ToolName: inv.Tool.Name()}
			}
			return nil, &tool.ExecutionError{ToolName: inv.Tool.Name(), Err: out.err}
		}
		return out.result, nil
	case <-execCtx.Done():
		// Give a well-behaved tool a moment to observe the cancellation
		// and report, so subprocess cleanup can finish.
		select {
		case out := <-done:
			if out.err == nil {
				return out.result, nil
			}
		case <-time.After(500 * time.Millisecond):
			e.logger.Warn("tool ignored cancellation, abandoning",
				"tool", inv.Tool.Name(), "agent_id", inv.AgentID)
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, &tool.TimeoutError{ToolName: inv.Tool.Name()}
		}
		return nil, &tool.ExecutionError{ToolName: inv.Tool.Name(), Err: execCtx.Err()}
	}
}

// audit emits the single audit entry for this attempt. Audit policy gates
// storage, not the redaction rules: when disabled the entry is dropped here.
func (e *Executor) audit(inv *Invocation, outcome audit.Outcome, reason string, elapsed time.Duration, cause error) {
	if !inv.Policy.Middleware.Audit.Enabled {
		return
	}
	entry := audit.Entry{
		TraceID:     inv.TraceID,
		ToolName:    inv.Tool.Name(),
		AgentID:     inv.AgentID,
		Timestamp:   time.Now().UTC(),
		Params:      audit.Redact(inv.Params, inv.Policy.Middleware.Audit.RedactKeys),
		Outcome:     outcome,
		BlockReason: reason,
		DurationMs:  elapsed.Milliseconds(),
		RiskLevel:   string(tool.Classify(inv.Tool)),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	e.auditor.Log(entry)
}

// traceID extracts the span's trace ID, falling back to a UUID when the
// tracer is a no-op.
func traceID(span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.New().String()
}
