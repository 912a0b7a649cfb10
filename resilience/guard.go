package resilience

import (
	"context"
	"sync"
	"time"
)

// Guard composes the resilience patterns around calls to one dependency.
type Guard struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// NewGuard creates a guard. A guard with no options runs operations directly.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithCircuitBreaker adds a circuit breaker.
func WithCircuitBreaker(cb *CircuitBreaker) GuardOption {
	return func(g *Guard) {
		g.circuitBreaker = cb
	}
}

// WithRetry adds retry logic.
func WithRetry(r *Retry) GuardOption {
	return func(g *Guard) {
		g.retry = r
	}
}

// WithRateLimiter adds rate limiting.
func WithRateLimiter(rl *RateLimiter) GuardOption {
	return func(g *Guard) {
		g.rateLimiter = rl
	}
}

// WithBulkhead adds a concurrency cap.
func WithBulkhead(b *Bulkhead) GuardOption {
	return func(g *Guard) {
		g.bulkhead = b
	}
}

// WithTimeout bounds every attempt. A non-positive duration disables it.
func WithTimeout(timeout time.Duration) GuardOption {
	return func(g *Guard) {
		if timeout <= 0 {
			g.timeout = nil
			return
		}
		g.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// CircuitState reports the breaker state, or StateClosed without a breaker.
func (g *Guard) CircuitState() State {
	if g == nil || g.circuitBreaker == nil {
		return StateClosed
	}
	return g.circuitBreaker.State()
}

// Execute runs op through the configured patterns.
//
// Order, outermost first: rate limiter, bulkhead, circuit breaker, retry,
// timeout. One logical call counts once against the limiter and the breaker
// no matter how many attempts the retry makes.
func (g *Guard) Execute(ctx context.Context, op func(context.Context) error) error {
	if g == nil {
		return op(ctx)
	}

	run := op
	wrap := func(layer func(context.Context, func(context.Context) error) error) {
		inner := run
		run = func(ctx context.Context) error { return layer(ctx, inner) }
	}

	if g.timeout != nil {
		wrap(g.timeout.Execute)
	}
	if g.retry != nil {
		wrap(g.retry.Execute)
	}
	if g.circuitBreaker != nil {
		wrap(g.circuitBreaker.Execute)
	}
	if g.bulkhead != nil {
		wrap(g.bulkhead.Execute)
	}
	if g.rateLimiter != nil {
		wrap(g.rateLimiter.Execute)
	}

	return run(ctx)
}

// Call runs a value-returning op through g. Results from attempts abandoned
// by a timeout are discarded.
func Call[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
	)
	err := g.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		out = v
		mu.Unlock()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
