package toolgate

import (
	"errors"
	"fmt"
	"time"
)

// Reason codes returned by the server for denied invocations.
const (
	ReasonSandboxViolation  = "sandbox_violation"
	ReasonSSRFBlocked       = "ssrf_blocked"
	ReasonCommandBlocked    = "command_blocked"
	ReasonRateLimited       = "rate_limited"
	ReasonCircuitOpen       = "circuit_open"
	ReasonInvalidParams     = "invalid_params"
	ReasonPolicyUnavailable = "policy_unavailable"
)

// APIError is a non-2xx response from the engine API.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Message is the server's error text.
	Message string
	// Reason is the machine-readable denial reason, empty for plain
	// failures.
	Reason string
	// RetryAfter is the server's suggested wait before retrying, zero
	// when the server did not send one.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("toolgate: %s (reason=%s, status=%d)", e.Message, e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("toolgate: %s (status=%d)", e.Message, e.StatusCode)
}

// IsDenied reports whether err is a policy denial (any reason code).
func IsDenied(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Reason != ""
}

// IsRateLimited reports whether err is a rate limit denial.
func IsRateLimited(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Reason == ReasonRateLimited
}

// IsCircuitOpen reports whether err is an open circuit denial.
func IsCircuitOpen(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Reason == ReasonCircuitOpen
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
