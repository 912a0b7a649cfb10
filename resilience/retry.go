package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential multiplies the delay each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases the delay by InitialDelay each attempt.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the growth factor for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter randomises exponential delays by +/-25%.
	Jitter bool

	// RetryIf determines if an error should trigger a retry.
	// Default: any error except rejections and context errors.
	RetryIf func(err error) bool

	// OnRetry is called before each retry with the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry re-runs failed operations with backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = defaultRetryIf
	}
	return &Retry{config: config}
}

func defaultRetryIf(err error) bool {
	if err == nil || IsRejection(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Execute runs op until it succeeds, returns a non-retryable error, or the
// attempts run out. Exhaustion wraps the last error in ErrMaxRetriesExceeded.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	attempt := 0
	exhausted := false

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !r.config.RetryIf(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if attempt >= r.config.MaxAttempts {
			exhausted = true
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.config.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}
		}),
	)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	if exhausted && r.config.MaxAttempts > 1 {
		return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, err)
	}
	return err
}

func (r *Retry) newBackOff() backoff.BackOff {
	switch r.config.Strategy {
	case BackoffConstant:
		return backoff.NewConstantBackOff(r.config.InitialDelay)
	case BackoffLinear:
		return &linearBackOff{step: r.config.InitialDelay, max: r.config.MaxDelay}
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.config.InitialDelay
		b.MaxInterval = r.config.MaxDelay
		b.Multiplier = r.config.Multiplier
		b.RandomizationFactor = 0
		if r.config.Jitter {
			b.RandomizationFactor = 0.25
		}
		return b
	}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

type linearBackOff struct {
	step, max time.Duration
	n         int64
}

func (b *linearBackOff) Reset() { b.n = 0 }

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.step * time.Duration(b.n)
	if d > b.max {
		d = b.max
	}
	return d
}
