package resilience

import (
	"context"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration
}

// Timeout bounds an operation by its own deadline, independent of the
// caller's context.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Timeout{config: config}
}

// Execute runs op with the configured deadline.
//
// ErrTimeout is returned only when the wrapper's own deadline fired. If the
// parent context ended first, its error is returned instead so callers can
// tell "the work was too slow" from "nobody is waiting any more". The
// operation keeps running in the background until it observes ctx.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	select {
	case err := <-done:
		if err != nil && opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return ErrTimeout
		}
		return err
	case <-opCtx.Done():
		if parentErr := ctx.Err(); parentErr != nil {
			return parentErr
		}
		return ErrTimeout
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout runs op with a one-off timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewTimeout(TimeoutConfig{Timeout: timeout}).Execute(ctx, op)
}
