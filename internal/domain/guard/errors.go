// Package guard implements the security validators that gate tool execution:
// the path sandbox, the SSRF guard, and the command sanitizer. Validators are
// pure and stateless; each takes the value under test and a resolved policy
// snapshot and returns nil or a typed denial error.
package guard

import "fmt"

// SandboxViolationError is returned when a path fails sandbox validation.
type SandboxViolationError struct {
	// Path is the original path as supplied by the caller.
	Path string
	// Resolved is the absolute, symlink-resolved form of Path, when known.
	Resolved string
	// Reason is a short machine-readable reason code.
	Reason string
}

func (e *SandboxViolationError) Error() string {
	return fmt.Sprintf("path sandbox violation: %s (%s)", e.Path, e.Reason)
}

// SSRFBlockedError is returned when an outbound target fails SSRF validation.
type SSRFBlockedError struct {
	// URL is the target as supplied by the caller.
	URL string
	// Host is the parsed hostname.
	Host string
	// IP is the resolved address that triggered the block, when applicable.
	IP string
	// Reason is a short machine-readable reason code.
	Reason string
}

func (e *SSRFBlockedError) Error() string {
	if e.IP != "" {
		return fmt.Sprintf("ssrf blocked: %s resolves to %s (%s)", e.Host, e.IP, e.Reason)
	}
	return fmt.Sprintf("ssrf blocked: %s (%s)", e.Host, e.Reason)
}

// CommandBlockedError is returned when a command line fails sanitization.
type CommandBlockedError struct {
	// Command is the command line as supplied by the caller.
	Command string
	// Pattern is the blocked pattern that matched, in blocklist mode.
	Pattern string
	// Reason is a short machine-readable reason code.
	Reason string
}

func (e *CommandBlockedError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("command blocked: matched pattern %q (%s)", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("command blocked: %s", e.Reason)
}
