package policy

import "context"

// Resolve merges an organization default with an optional per-agent override.
// The merge is total: every section of the result comes either from the
// override (when set) or the default, never from ad-hoc null-coalescing at
// call sites. Inputs are not mutated; slices and maps are copied so the
// returned snapshot is immutable for the duration of one invocation.
func Resolve(def ToolSecurity, override *Override) ToolSecurity {
	out := cloneToolSecurity(def)
	if override == nil {
		return out
	}
	if override.PathSandbox != nil {
		out.Security.PathSandbox = clonePathSandbox(*override.PathSandbox)
	}
	if override.SSRF != nil {
		out.Security.SSRF = cloneSSRF(*override.SSRF)
	}
	if override.CommandSanitizer != nil {
		out.Security.CommandSanitizer = cloneCommandSanitizer(*override.CommandSanitizer)
	}
	if override.Audit != nil {
		out.Middleware.Audit = cloneAudit(*override.Audit)
	}
	if override.RateLimit != nil {
		out.Middleware.RateLimit = cloneRateLimit(*override.RateLimit)
	}
	if override.CircuitBreaker != nil {
		out.Middleware.CircuitBreaker = *override.CircuitBreaker
	}
	if override.Telemetry != nil {
		out.Middleware.Telemetry = *override.Telemetry
	}
	return out
}

func cloneToolSecurity(ts ToolSecurity) ToolSecurity {
	return ToolSecurity{
		Security: SecurityPolicy{
			PathSandbox:      clonePathSandbox(ts.Security.PathSandbox),
			SSRF:             cloneSSRF(ts.Security.SSRF),
			CommandSanitizer: cloneCommandSanitizer(ts.Security.CommandSanitizer),
		},
		Middleware: MiddlewarePolicy{
			Audit:          cloneAudit(ts.Middleware.Audit),
			RateLimit:      cloneRateLimit(ts.Middleware.RateLimit),
			CircuitBreaker: ts.Middleware.CircuitBreaker,
			Telemetry:      ts.Middleware.Telemetry,
		},
	}
}

func clonePathSandbox(p PathSandboxPolicy) PathSandboxPolicy {
	p.AllowedDirs = cloneStrings(p.AllowedDirs)
	p.BlockedPatterns = cloneStrings(p.BlockedPatterns)
	return p
}

func cloneSSRF(p SSRFPolicy) SSRFPolicy {
	p.AllowedHosts = cloneStrings(p.AllowedHosts)
	p.BlockedCidrs = cloneStrings(p.BlockedCidrs)
	return p
}

func cloneCommandSanitizer(p CommandSanitizerPolicy) CommandSanitizerPolicy {
	if p.Mode == "" {
		p.Mode = ModeBlocklist
	}
	p.AllowedCommands = cloneStrings(p.AllowedCommands)
	p.BlockedPatterns = cloneStrings(p.BlockedPatterns)
	return p
}

func cloneAudit(p AuditPolicy) AuditPolicy {
	p.RedactKeys = cloneStrings(p.RedactKeys)
	return p
}

func cloneRateLimit(p RateLimitPolicy) RateLimitPolicy {
	if p.Overrides != nil {
		m := make(map[string]RateLimitOverride, len(p.Overrides))
		for k, v := range p.Overrides {
			m[k] = v
		}
		p.Overrides = m
	}
	return p
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// Source provides the organization default policy and per-agent overrides.
// The pipeline resolves policy through a Source at every invocation so
// configuration changes take effect immediately; implementations must not
// hand out stale merged results across calls.
type Source interface {
	// OrgDefault returns the organization-wide tool security policy.
	OrgDefault(ctx context.Context) (ToolSecurity, error)
	// AgentOverride returns the sparse override for an agent, or nil when
	// the agent has no override configured.
	AgentOverride(ctx context.Context, agentID string) (*Override, error)
}

// ResolveFor fetches the default and the agent override from src and merges
// them. Fetch errors fail closed at the caller: a pipeline that cannot
// resolve policy must refuse the invocation rather than guess.
func ResolveFor(ctx context.Context, src Source, agentID string) (ToolSecurity, error) {
	def, err := src.OrgDefault(ctx)
	if err != nil {
		return ToolSecurity{}, err
	}
	override, err := src.AgentOverride(ctx, agentID)
	if err != nil {
		return ToolSecurity{}, err
	}
	return Resolve(def, override), nil
}
