// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capability

import (
	"errors"
	"fmt"
)

// The four dispatch error kinds. Policy and validation errors are never
// retried automatically; capability errors signal a configuration gap;
// execution errors may be transient and are eligible for fallback.

// PolicyDeniedError is returned when the kill switch, a capability toggle,
// the rate limiter or a privacy/steering rule refuses a request.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied: %s", e.Reason)
}

// PolicyDenied builds a PolicyDeniedError with a formatted reason.
func PolicyDenied(format string, args ...interface{}) error {
	return &PolicyDeniedError{Reason: fmt.Sprintf(format, args...)}
}

// RateLimitedError is the rate limiter's refusal. It unwraps to a
// PolicyDeniedError so policy checks treat it as a denial, while the API
// layer can map it to 429 instead of 403.
type RateLimitedError struct {
	Capability ID
	Reason     string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited %s: %s", e.Capability, e.Reason)
}

func (e *RateLimitedError) Unwrap() error {
	return &PolicyDeniedError{Reason: e.Reason}
}

// CapabilityUnavailableError is returned when no eligible provider exists
// and the capability has no deterministic fallback.
type CapabilityUnavailableError struct {
	Capability ID
}

func (e *CapabilityUnavailableError) Error() string {
	return fmt.Sprintf("capability unavailable: %s", e.Capability)
}

// ValidationError is returned when input or output violates a contract or
// an engine invariant. A data problem, not a transient one.
type ValidationError struct {
	Capability ID
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Capability, e.Reason)
}

// ExecutionError wraps a provider or fallback failure.
type ExecutionError struct {
	Capability ID
	Provider   ProviderID
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s via %s: %v", e.Capability, e.Provider, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsPolicyDenied reports whether err is (or wraps) a policy refusal.
func IsPolicyDenied(err error) bool {
	var pe *PolicyDeniedError
	return errors.As(err, &pe)
}

// IsValidationFailed reports whether err is (or wraps) a contract violation.
func IsValidationFailed(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRateLimited reports whether err is (or wraps) a rate-limiter refusal.
func IsRateLimited(err error) bool {
	var re *RateLimitedError
	return errors.As(err, &re)
}

// IsCapabilityUnavailable reports whether err signals a configuration gap
// rather than a transient failure.
func IsCapabilityUnavailable(err error) bool {
	var ce *CapabilityUnavailableError
	return errors.As(err, &ce)
}
