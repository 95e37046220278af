// Package policy contains domain types for tool security and middleware policies.
package policy

// SanitizerMode selects how the command sanitizer evaluates command lines.
type SanitizerMode string

const (
	// ModeBlocklist rejects command lines matching any blocked pattern.
	ModeBlocklist SanitizerMode = "blocklist"
	// ModeAllowlist rejects any command whose executable is not explicitly allowed.
	ModeAllowlist SanitizerMode = "allowlist"
)

// IsValid returns true if the mode is a known sanitizer mode.
func (m SanitizerMode) IsValid() bool {
	return m == ModeBlocklist || m == ModeAllowlist
}

// PathSandboxPolicy restricts filesystem access to allowed directories.
type PathSandboxPolicy struct {
	// Enabled controls whether path validation runs at all.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// AllowedDirs are directory roots tool paths must resolve under.
	// Empty means any directory is allowed (block patterns still apply).
	AllowedDirs []string `json:"allowedDirs" yaml:"allowed_dirs"`
	// BlockedPatterns are regexes that reject a path even inside an allowed dir.
	BlockedPatterns []string `json:"blockedPatterns" yaml:"blocked_patterns"`
}

// SSRFPolicy restricts outbound network targets.
type SSRFPolicy struct {
	// Enabled controls whether SSRF validation runs at all.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// AllowedHosts pass regardless of the IP ranges they resolve to.
	// When non-empty, only listed hosts pass.
	AllowedHosts []string `json:"allowedHosts" yaml:"allowed_hosts"`
	// BlockedCidrs are CIDR ranges rejected in addition to the built-in
	// private/loopback/link-local/metadata ranges.
	BlockedCidrs []string `json:"blockedCidrs" yaml:"blocked_cidrs"`
}

// CommandSanitizerPolicy restricts shell command lines.
type CommandSanitizerPolicy struct {
	// Enabled controls whether command validation runs at all.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Mode is blocklist or allowlist. Defaults to blocklist when empty.
	Mode SanitizerMode `json:"mode" yaml:"mode"`
	// AllowedCommands are executable names permitted in allowlist mode.
	AllowedCommands []string `json:"allowedCommands" yaml:"allowed_commands"`
	// BlockedPatterns are regexes rejected in blocklist mode, merged with
	// the built-in destructive/injection defaults.
	BlockedPatterns []string `json:"blockedPatterns" yaml:"blocked_patterns"`
}

// SecurityPolicy groups the validator policies applied before tool execution.
type SecurityPolicy struct {
	PathSandbox      PathSandboxPolicy      `json:"pathSandbox" yaml:"path_sandbox"`
	SSRF             SSRFPolicy             `json:"ssrf" yaml:"ssrf"`
	CommandSanitizer CommandSanitizerPolicy `json:"commandSanitizer" yaml:"command_sanitizer"`
}

// AuditPolicy configures invocation audit logging.
type AuditPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// RedactKeys are parameter keys (case-insensitive) whose values are
	// masked before storage, merged with the built-in sensitive key list.
	RedactKeys []string `json:"redactKeys" yaml:"redact_keys"`
}

// RateLimitOverride sets per-tool token bucket parameters.
type RateLimitOverride struct {
	// MaxTokens is the bucket capacity (burst size).
	MaxTokens float64 `json:"maxTokens" yaml:"max_tokens"`
	// RefillPerSecond is the continuous refill rate.
	RefillPerSecond float64 `json:"refillPerSecond" yaml:"refill_per_second"`
}

// RateLimitPolicy configures per-(agent, tool) admission control.
type RateLimitPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Overrides maps tool names to bucket parameters. Tools without an
	// override use the pipeline-wide defaults.
	Overrides map[string]RateLimitOverride `json:"overrides" yaml:"overrides"`
}

// CircuitBreakerPolicy configures per-tool failure isolation.
type CircuitBreakerPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// PerAgent scopes breaker state to (agent, tool) instead of tool alone.
	PerAgent bool `json:"perAgent" yaml:"per_agent"`
}

// TelemetryPolicy configures per-tool metric aggregation.
type TelemetryPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// MiddlewarePolicy groups the operational middleware policies.
type MiddlewarePolicy struct {
	Audit          AuditPolicy          `json:"audit" yaml:"audit"`
	RateLimit      RateLimitPolicy      `json:"rateLimit" yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerPolicy `json:"circuitBreaker" yaml:"circuit_breaker"`
	Telemetry      TelemetryPolicy      `json:"telemetry" yaml:"telemetry"`
}

// ToolSecurity is the full policy payload for one scope (org default or
// per-agent override). Field names match the settings API payload shape.
type ToolSecurity struct {
	Security   SecurityPolicy   `json:"security" yaml:"security"`
	Middleware MiddlewarePolicy `json:"middleware" yaml:"middleware"`
}

// Override carries a sparse per-agent policy. Nil sections inherit the
// organization default; set sections replace it wholesale for that concern.
type Override struct {
	PathSandbox      *PathSandboxPolicy      `json:"pathSandbox,omitempty" yaml:"path_sandbox,omitempty"`
	SSRF             *SSRFPolicy             `json:"ssrf,omitempty" yaml:"ssrf,omitempty"`
	CommandSanitizer *CommandSanitizerPolicy `json:"commandSanitizer,omitempty" yaml:"command_sanitizer,omitempty"`
	Audit            *AuditPolicy            `json:"audit,omitempty" yaml:"audit,omitempty"`
	RateLimit        *RateLimitPolicy        `json:"rateLimit,omitempty" yaml:"rate_limit,omitempty"`
	CircuitBreaker   *CircuitBreakerPolicy   `json:"circuitBreaker,omitempty" yaml:"circuit_breaker,omitempty"`
	Telemetry        *TelemetryPolicy        `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// DefaultToolSecurity returns the policy used when no configuration exists:
// all validators and middlewares enabled with empty lists, blocklist mode.
// Built-in blocked ranges and command patterns still apply.
func DefaultToolSecurity() ToolSecurity {
	return ToolSecurity{
		Security: SecurityPolicy{
			PathSandbox:      PathSandboxPolicy{Enabled: true},
			SSRF:             SSRFPolicy{Enabled: true},
			CommandSanitizer: CommandSanitizerPolicy{Enabled: true, Mode: ModeBlocklist},
		},
		Middleware: MiddlewarePolicy{
			Audit:          AuditPolicy{Enabled: true},
			RateLimit:      RateLimitPolicy{Enabled: true},
			CircuitBreaker: CircuitBreakerPolicy{Enabled: true},
			Telemetry:      TelemetryPolicy{Enabled: true},
		},
	}
}
