package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validatePolicySource(); err != nil {
		return err
	}
	if err := c.validateAuditOutput(); err != nil {
		return err
	}
	if err := c.validateRateLimitBackend(); err != nil {
		return err
	}
	return c.validateDurations()
}

// validatePolicySource ensures the selected source has its required field.
func (c *Config) validatePolicySource() error {
	switch c.Policy.Source {
	case "file":
		if c.Policy.File == "" {
			return errors.New("policy: file path is required when source is 'file'")
		}
	case "http":
		if c.Policy.BaseURL == "" {
			return errors.New("policy: base_url is required when source is 'http'")
		}
	}
	return nil
}

// validateAuditOutput ensures the selected backend has its required field.
func (c *Config) validateAuditOutput() error {
	switch c.Audit.Output {
	case "file":
		if c.Audit.File.Dir == "" {
			return errors.New("audit: file.dir is required when output is 'file'")
		}
	case "clickhouse":
		if c.Audit.ClickHouseDSN == "" {
			return errors.New("audit: clickhouse_dsn is required when output is 'clickhouse'")
		}
	}
	return nil
}

// validateRateLimitBackend ensures Redis settings exist when selected.
func (c *Config) validateRateLimitBackend() error {
	if c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		return errors.New("rate_limit: redis.addr is required when backend is 'redis'")
	}
	return nil
}

// validateDurations checks all duration-typed string fields parse.
func (c *Config) validateDurations() error {
	fields := map[string]string{
		"breaker.cooldown":     c.Breaker.Cooldown,
		"exec.timeout":         c.Exec.Timeout,
		"audit.flush_interval": c.Audit.FlushInterval,
		"audit.send_timeout":   c.Audit.SendTimeout,
	}
	for name, val := range fields {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, val)
		}
	}
	return nil
}

// BreakerCooldown returns the parsed cooldown. Call after Validate.
func (c *Config) BreakerCooldown() time.Duration {
	d, err := time.ParseDuration(c.Breaker.Cooldown)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ExecTimeout returns the parsed execution timeout. Call after Validate.
func (c *Config) ExecTimeout() time.Duration {
	d, err := time.ParseDuration(c.Exec.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// AuditFlushInterval returns the parsed flush interval. Call after Validate.
func (c *Config) AuditFlushInterval() time.Duration {
	d, err := time.ParseDuration(c.Audit.FlushInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// AuditSendTimeout returns the parsed send timeout. Call after Validate.
func (c *Config) AuditSendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Audit.SendTimeout)
	if err != nil {
		return 100 * time.Millisecond
	}
	return d
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
