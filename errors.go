package arbiter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrNoEligibleCandidates   = errors.New("no eligible candidates")
	ErrAllCandidatesExhausted = errors.New("all candidates exhausted")
	ErrBudgetExceeded         = errors.New("budget exceeded")
	ErrRateLimited            = errors.New("rate limited")
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrUnknownModel           = errors.New("unknown model")
	ErrUnknownProvider        = errors.New("unknown provider")
	ErrNoProviders            = errors.New("no provider adapters registered")
	ErrContextCanceled        = errors.New("context canceled")
	ErrStreamClosed           = errors.New("stream closed")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrAuthFailed             = errors.New("authentication failed")
	ErrProviderError          = errors.New("provider error")
)

// APIError represents an error from an upstream provider API
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Type       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Provider + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when admission control denies a request.
// ResetAt is the earliest time at which capacity is expected to be available,
// suitable for Retry-After semantics upstream.
type RateLimitError struct {
	Identifier string
	Dimension  string
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s dimension %s exhausted until %s",
		e.Identifier, e.Dimension, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExhaustionError is returned when bounded fallback runs out of attempts.
// It carries the full attempt chain so callers can render an actionable
// error without a stack trace.
type ExhaustionError struct {
	Attempts []Attempt
	Last     error
}

func (e *ExhaustionError) Error() string {
	providers := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		providers = append(providers, a.ProviderID)
	}
	return fmt.Sprintf("all candidates exhausted after %d attempts (%s): %v",
		len(e.Attempts), strings.Join(providers, ", "), e.Last)
}

func (e *ExhaustionError) Unwrap() error {
	return ErrAllCandidatesExhausted
}

// IsProviderFault reports whether an error counts against a provider's
// circuit breaker. Timeouts, connection errors, 5xx and 429 responses are
// provider faults; other 4xx responses are caller errors and must not trip
// the breaker. Cancellation is recorded as a timeout-equivalent fault so the
// breaker never sees an unrecorded in-flight call.
func IsProviderFault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrContextCanceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true // provider overload
		}
		if apiErr.StatusCode >= 500 {
			return true
		}
		if apiErr.StatusCode >= 400 {
			return false
		}
		return true // transport-level failure without a status
	}

	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest) {
		return false
	}

	return true
}

// IsRetryable reports whether fallback should try the next candidate after
// this error. Validation and auth errors are never retried; cancellation
// stops the attempt loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContextCanceled) {
		return false
	}

	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests: // 429 - provider overload, try elsewhere
			return true
		case http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusBadRequest:
			return false
		}
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	// Default to retryable for unknown errors
	return true
}

// IsRateLimited returns true if the error indicates rate limiting
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	return false
}
