// Package resilience provides the failure-handling patterns used around
// embedding providers and tool executions.
//
// # Patterns
//
//   - Circuit Breaker: stops calling a failing dependency after a threshold
//     and tries it again after a reset timeout.
//   - Retry: re-runs failed operations with exponential, linear or constant
//     backoff (github.com/cenkalti/backoff/v5).
//   - Rate Limiter: token bucket (golang.org/x/time/rate).
//   - Bulkhead: caps concurrent operations.
//   - Timeout: bounds an operation by its own deadline.
//
// # Usage
//
// Patterns compose into a Guard:
//
//	guard := resilience.NewGuard(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 50, Burst: 10})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 5})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 2})),
//	    resilience.WithTimeout(2*time.Second),
//	)
//
//	vec, err := resilience.Call(ctx, guard, func(ctx context.Context) ([]float32, error) {
//	    return provider.Embed(ctx, text)
//	})
package resilience
