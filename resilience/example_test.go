package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/toolcache/resilience"
)

func ExampleGuard() {
	guard := resilience.NewGuard(
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 3})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})),
		resilience.WithTimeout(time.Second),
	)

	attempts := 0
	vec, err := resilience.Call(context.Background(), guard, func(ctx context.Context) ([]float32, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("provider busy")
		}
		return []float32{0.6, 0.8}, nil
	})

	fmt.Println(vec, err, attempts)
	// Output: [0.6 0.8] <nil> 2
}

func ExampleCircuitBreaker() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(ctx context.Context) error { return errors.New("down") })
	err := cb.Execute(ctx, func(ctx context.Context) error { return nil })

	fmt.Println(cb.State(), errors.Is(err, resilience.ErrCircuitOpen))
	// Output: open true
}
