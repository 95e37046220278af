// Package config provides configuration types and loading for toolgate.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the toolgate server.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Policy configures where security policies are resolved from.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// RateLimit configures the token bucket limiter defaults and backend.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Breaker configures circuit breaker thresholds.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// Exec configures tool execution.
	Exec ExecConfig `yaml:"exec" mapstructure:"exec"`

	// Audit configures where audit entries are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// Tools configures the built-in tools.
	Tools ToolsConfig `yaml:"tools" mapstructure:"tools"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// Use a reverse proxy for TLS termination.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// PolicyConfig selects the policy source.
type PolicyConfig struct {
	// Source selects where policies come from.
	// Valid values: "static" (built-in defaults), "file" (YAML policy file),
	// "http" (dashboard settings API). Defaults to "static".
	Source string `yaml:"source" mapstructure:"source" validate:"omitempty,oneof=static file http"`

	// File is the policy file path, required when source is "file".
	File string `yaml:"file" mapstructure:"file"`

	// BaseURL is the settings API base URL, required when source is "http".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
}

// RateLimitConfig configures the token bucket limiter.
type RateLimitConfig struct {
	// Backend selects the limiter implementation.
	// Valid values: "memory" (per-instance) or "redis" (shared).
	// Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory redis"`

	// MaxTokens is the default bucket capacity per (agent, tool) pair.
	// Defaults to 60.
	MaxTokens float64 `yaml:"max_tokens" mapstructure:"max_tokens" validate:"omitempty,min=1"`

	// RefillPerSecond is the default continuous refill rate.
	// Defaults to 1.
	RefillPerSecond float64 `yaml:"refill_per_second" mapstructure:"refill_per_second" validate:"omitempty,gt=0"`

	// Redis configures the shared backend when Backend is "redis".
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the Redis host:port.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	// Password authenticates the connection (optional).
	Password string `yaml:"password" mapstructure:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db" mapstructure:"db" validate:"omitempty,min=0"`
	// KeyPrefix namespaces limiter keys. Defaults to "toolgate:ratelimit:".
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// BreakerConfig configures the per-tool circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Defaults to 5.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`

	// Cooldown is how long an open circuit rejects calls before admitting
	// a probe (e.g., "30s"). Defaults to "30s".
	Cooldown string `yaml:"cooldown" mapstructure:"cooldown" validate:"omitempty"`
}

// ExecConfig configures tool execution.
type ExecConfig struct {
	// Timeout is the per-invocation wall clock limit (e.g., "60s").
	// Defaults to "60s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// AuditConfig configures audit log output.
type AuditConfig struct {
	// Output specifies where audit entries are written.
	// Valid values: "stdout", "file" (see File section), or "clickhouse".
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,oneof=stdout file clickhouse"`

	// ChannelSize is the buffer size for the audit channel.
	// Larger values handle burst traffic better but use more memory.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of entries to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending entries (e.g., "1s").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full
	// (e.g., "100ms", "0"). "0" or empty = drop immediately.
	// Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// File configures file-based persistence when Output is "file".
	File AuditFileConfig `yaml:"file" mapstructure:"file"`

	// ClickHouseDSN is the connection string when Output is "clickhouse"
	// (e.g., "clickhouse://localhost:9000/default").
	ClickHouseDSN string `yaml:"clickhouse_dsn" mapstructure:"clickhouse_dsn"`
}

// AuditFileConfig configures file-based audit persistence.
type AuditFileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep audit files.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
	// MaxFileSizeMB is the maximum size per audit file in megabytes before
	// rotation. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	// CacheSize is the number of recent entries kept in memory for queries.
	// Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns span export on. Defaults to false; invocations still
	// carry generated trace IDs when disabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// PrettyPrint renders exported spans as indented JSON.
	PrettyPrint bool `yaml:"pretty_print" mapstructure:"pretty_print"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// WorkspaceDir is the directory tree filesystem tools may touch.
	// Defaults to the current working directory.
	WorkspaceDir string `yaml:"workspace_dir" mapstructure:"workspace_dir"`

	// FetchMaxBodyBytes caps HTTP fetch response bodies.
	// Defaults to 1 MiB.
	FetchMaxBodyBytes int64 `yaml:"fetch_max_body_bytes" mapstructure:"fetch_max_body_bytes" validate:"omitempty,min=1"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults. Bind to localhost only; users who need network
	// access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Policy.Source == "" {
		c.Policy.Source = "static"
	}

	// Rate limit defaults
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	if c.RateLimit.MaxTokens == 0 {
		c.RateLimit.MaxTokens = 60
	}
	if c.RateLimit.RefillPerSecond == 0 {
		c.RateLimit.RefillPerSecond = 1
	}

	// Breaker defaults
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Cooldown == "" {
		c.Breaker.Cooldown = "30s"
	}

	if c.Exec.Timeout == "" {
		c.Exec.Timeout = "60s"
	}

	// Audit defaults
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.File.RetentionDays == 0 {
		c.Audit.File.RetentionDays = 7
	}
	if c.Audit.File.MaxFileSizeMB == 0 {
		c.Audit.File.MaxFileSizeMB = 100
	}
	if c.Audit.File.CacheSize == 0 {
		c.Audit.File.CacheSize = 1000
	}

	if c.Tools.FetchMaxBodyBytes == 0 {
		c.Tools.FetchMaxBodyBytes = 1 << 20
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied after SetDefaults and before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// Verbose logging unless explicitly set
	if !viper.IsSet("server.log_level") {
		c.Server.LogLevel = "debug"
	}

	// Pretty span output on stdout for local inspection
	if !viper.IsSet("tracing.enabled") {
		c.Tracing.Enabled = true
		c.Tracing.PrettyPrint = true
	}
}
