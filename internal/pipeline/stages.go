package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agenticmail/toolgate/internal/domain/audit"
	"github.com/agenticmail/toolgate/internal/domain/breaker"
	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
	"github.com/agenticmail/toolgate/internal/domain/tool"
)

// Invocation carries one tool call through the stage list. The policy
// snapshot is resolved once at admission and never re-read mid-flight.
type Invocation struct {
	Tool    tool.Tool
	AgentID string
	Params  map[string]interface{}
	Policy  policy.ToolSecurity
	TraceID string
}

// Stage is one admission check. Stages run in a fixed order; the first
// denial short-circuits the list. Stages before execution are synchronous
// and fast and must not block.
type Stage interface {
	// Name identifies the stage in logs.
	Name() string
	// Admit returns nil to let the invocation proceed, or a *DeniedError
	// carrying the block reason.
	Admit(ctx context.Context, inv *Invocation) *DeniedError
}

// pathParamKeys are parameter names the filesystem validator inspects.
var pathParamKeys = []string{"path", "file", "filepath", "dir", "directory"}

// urlParamKeys are parameter names the network validator inspects.
var urlParamKeys = []string{"url", "endpoint", "host", "target"}

// commandParamKeys are parameter names the shell validator inspects.
var commandParamKeys = []string{"command", "cmd", "script"}

// stringParams collects the non-empty string values of the given keys.
func stringParams(params map[string]interface{}, keys []string) []string {
	var out []string
	for _, k := range keys {
		if v, ok := params[k].(string); ok && v != "" {
			out = append(out, v)
		}
	}
	return out
}

// declares reports whether the tool declares the given side effect.
func declares(t tool.Tool, se tool.SideEffect) bool {
	for _, s := range t.SideEffects() {
		if s == se {
			return true
		}
	}
	return false
}

// SchemaStage validates invocation parameters against the tool's declared
// input schema. Tools without a schema pass.
type SchemaStage struct{}

func (SchemaStage) Name() string { return "schema" }

// Admit compiles the tool's schema and validates the params against it.
// A malformed schema counts against the tool, not the caller, but still
// blocks: a tool whose contract cannot be checked does not run.
func (SchemaStage) Admit(_ context.Context, inv *Invocation) *DeniedError {
	raw := inv.Tool.InputSchema()
	if len(raw) == 0 {
		return nil
	}
	schemaObj, err := jsonschema.UnmarshalJSON(bytesReader(raw))
	if err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonInvalidParams,
			Cause: fmt.Errorf("unmarshal input schema: %w", err)}
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonInvalidParams,
			Cause: fmt.Errorf("add schema resource: %w", err)}
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonInvalidParams,
			Cause: fmt.Errorf("compile input schema: %w", err)}
	}
	// Round-trip params through JSON so numbers validate with the types
	// the schema library expects.
	normalized, err := normalizeParams(inv.Params)
	if err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonInvalidParams, Cause: err}
	}
	if err := sch.Validate(normalized); err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonInvalidParams, Cause: err}
	}
	return nil
}

func normalizeParams(params map[string]interface{}) (interface{}, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return jsonschema.UnmarshalJSON(bytesReader(b))
}

// SandboxStage runs the path sandbox over filesystem tool parameters.
type SandboxStage struct {
	Sandbox *guard.PathSandbox
}

func (SandboxStage) Name() string { return "path_sandbox" }

func (s SandboxStage) Admit(_ context.Context, inv *Invocation) *DeniedError {
	if !declares(inv.Tool, tool.SideEffectFilesystem) {
		return nil
	}
	for _, p := range stringParams(inv.Params, pathParamKeys) {
		if err := s.Sandbox.Validate(p, inv.Policy.Security.PathSandbox); err != nil {
			return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonSandboxViolation, Cause: err}
		}
	}
	return nil
}

// SSRFStage runs the SSRF guard over network tool parameters. Hosts are
// resolved here, at admission time, not from any cached resolution.
type SSRFStage struct {
	Guard *guard.SSRFGuard
}

func (SSRFStage) Name() string { return "ssrf" }

func (s SSRFStage) Admit(ctx context.Context, inv *Invocation) *DeniedError {
	if !declares(inv.Tool, tool.SideEffectNetwork) {
		return nil
	}
	for _, u := range stringParams(inv.Params, urlParamKeys) {
		if err := s.Guard.Validate(ctx, u, inv.Policy.Security.SSRF); err != nil {
			return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonSSRFBlocked, Cause: err}
		}
	}
	return nil
}

// CommandStage runs the command sanitizer over shell tool parameters.
type CommandStage struct {
	Sanitizer *guard.CommandSanitizer
}

func (CommandStage) Name() string { return "command_sanitizer" }

func (s CommandStage) Admit(_ context.Context, inv *Invocation) *DeniedError {
	if !declares(inv.Tool, tool.SideEffectShell) {
		return nil
	}
	for _, c := range stringParams(inv.Params, commandParamKeys) {
		if err := s.Sanitizer.Validate(c, inv.Policy.Security.CommandSanitizer); err != nil {
			return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonCommandBlocked, Cause: err}
		}
	}
	return nil
}

// RateLimitStage consumes one token from the (agent, tool) bucket. It runs
// after the validators so a rejected call never spends a token.
type RateLimitStage struct {
	Limiter  ratelimit.Limiter
	Defaults ratelimit.BucketConfig
}

func (RateLimitStage) Name() string { return "rate_limit" }

func (s RateLimitStage) Admit(_ context.Context, inv *Invocation) *DeniedError {
	pol := inv.Policy.Middleware.RateLimit
	if !pol.Enabled {
		return nil
	}
	cfg := s.Defaults
	if o, ok := pol.Overrides[inv.Tool.Name()]; ok {
		cfg = ratelimit.BucketConfig{MaxTokens: o.MaxTokens, RefillPerSecond: o.RefillPerSecond}
	}
	key := ratelimit.Key{AgentID: inv.AgentID, ToolName: inv.Tool.Name()}
	if err := s.Limiter.Acquire(key, cfg); err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonRateLimited, Cause: err}
	}
	return nil
}

// BreakerStage denies calls to tools whose circuit is open. It is the last
// admission stage; a denial here leaves breaker counters untouched.
type BreakerStage struct {
	Breaker breaker.Breaker
	Config  breaker.Config
}

func (BreakerStage) Name() string { return "circuit_breaker" }

func (s BreakerStage) Admit(_ context.Context, inv *Invocation) *DeniedError {
	pol := inv.Policy.Middleware.CircuitBreaker
	if !pol.Enabled {
		return nil
	}
	key := breakerKey(inv)
	if err := s.Breaker.Check(key, s.Config); err != nil {
		return &DeniedError{ToolName: inv.Tool.Name(), Reason: audit.ReasonCircuitOpen, Cause: err}
	}
	return nil
}

// breakerKey scopes breaker state per tool, or per (agent, tool) when the
// policy requests it.
func breakerKey(inv *Invocation) string {
	if inv.Policy.Middleware.CircuitBreaker.PerAgent {
		return inv.AgentID + "/" + inv.Tool.Name()
	}
	return inv.Tool.Name()
}

// DefaultExecTimeout bounds tool execution, the only phase allowed to block.
const DefaultExecTimeout = 60 * time.Second
