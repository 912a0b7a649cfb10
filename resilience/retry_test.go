package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRetry(t *testing.T) {
	r := NewRetry(RetryConfig{})

	cfg := r.Config()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 100ms", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %f, want 2.0", cfg.Multiplier)
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_SuccessOnRetry(t *testing.T) {
	var retried []int
	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retried = append(retried, attempt)
		},
	})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retried)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})

	testErr := errors.New("provider down")
	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return testErr
	})

	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("Execute() error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Execute() error = %v, want wrapped %v", err, testErr)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"circuit open", ErrCircuitOpen},
		{"rate limited", ErrRateLimitExceeded},
		{"cancelled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond})
			attempts := 0
			err := r.Execute(context.Background(), func(ctx context.Context) error {
				attempts++
				return tt.err
			})
			if attempts != 1 {
				t.Errorf("attempts = %d, want 1", attempts)
			}
			if err != tt.err {
				t.Errorf("Execute() error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestRetry_CustomRetryIf(t *testing.T) {
	retryable := errors.New("retry me")
	r := NewRetry(RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return errors.Is(err, retryable) },
	})

	attempts := 0
	fatal := errors.New("fatal")
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return retryable
		}
		return fatal
	})

	if err != fatal {
		t.Errorf("Execute() error = %v, want %v", err, fatal)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	err := r.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestRetry_BackOffStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy BackoffStrategy
		want     []time.Duration
	}{
		{"constant", BackoffConstant, []time.Duration{10, 10, 10}},
		{"linear", BackoffLinear, []time.Duration{10, 20, 25}},
		{"exponential", BackoffExponential, []time.Duration{10, 20, 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(RetryConfig{
				InitialDelay: 10,
				MaxDelay:     25,
				Multiplier:   2,
				Strategy:     tt.strategy,
			})
			b := r.newBackOff()
			b.Reset()
			for i, want := range tt.want {
				if got := b.NextBackOff(); got != want {
					t.Errorf("NextBackOff()[%d] = %v, want %v", i, got, want)
				}
			}
		})
	}
}
