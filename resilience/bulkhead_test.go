package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("second Acquire() error = %v, want ErrBulkheadFull", err)
	}
	b.Release()
	if err := b.Acquire(ctx); err != nil {
		t.Errorf("Acquire() after Release error = %v", err)
	}
	b.Release()

	m := b.Metrics()
	if m.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", m.Rejected)
	}
	if m.Active != 0 || m.Available != 1 {
		t.Errorf("Metrics() = %+v, want idle", m)
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Release()
	}()

	if err := b.Acquire(ctx); err != nil {
		t.Errorf("waiting Acquire() error = %v", err)
	}
	b.Release()
}

func TestBulkhead_WaitRespectsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	_ = b.Acquire(context.Background())
	defer b.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestBulkhead_CapsConcurrency(t *testing.T) {
	const limit = 3
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: limit, MaxWait: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(ctx context.Context) error {
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := b.Metrics().MaxActive; got > limit {
		t.Errorf("MaxActive = %d, want <= %d", got, limit)
	}
}
