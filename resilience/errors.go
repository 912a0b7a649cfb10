package resilience

import (
	"context"
	"errors"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded wraps the last error once every attempt failed.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation exceeds its own deadline.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// IsRejection reports whether err came from a guard refusing to run an
// operation rather than from the operation itself.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrBulkheadFull)
}

// isCallerGone reports whether err is the caller's own cancellation.
func isCallerGone(err error) bool {
	return errors.Is(err, context.Canceled)
}
