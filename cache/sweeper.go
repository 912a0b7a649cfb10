package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/toolcache/observe"
)

// DefaultSweepInterval is how often a Sweeper runs when no interval is set.
const DefaultSweepInterval = time.Minute

// ErrSweeperRunning is returned by Start when the sweeper is already running.
var ErrSweeperRunning = errors.New("cache: sweeper already running")

// Sweeper periodically removes expired entries from a Coordinator. Lazy
// expiry on lookup keeps results correct without it; the sweeper only
// reclaims memory and disk.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	logger   observe.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper for coord. A non-positive interval uses
// DefaultSweepInterval; a nil logger logs nothing.
func NewSweeper(coord *Coordinator, interval time.Duration, logger observe.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Sweeper{coord: coord, interval: interval, logger: logger}
}

// Start runs sweeps in the background until Stop is called or ctx ends.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSweeperRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
	return nil
}

// Stop halts the background loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopCh == stop {
				s.running = false
			}
			s.mu.Unlock()
			return
		}
	}
}

// SweepOnce runs a single sweep and logs what it removed.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepStats {
	start := time.Now()
	stats, err := s.coord.Sweep(ctx)
	if err != nil {
		s.logger.Warn(ctx, "durable tier purge failed", observe.Field{Key: "error", Value: err})
	}
	if stats.Vectors+stats.Entries+stats.Tier > 0 {
		s.logger.Debug(ctx, "sweep completed",
			observe.Field{Key: "vectors", Value: stats.Vectors},
			observe.Field{Key: "entries", Value: stats.Entries},
			observe.Field{Key: "tier", Value: stats.Tier},
			observe.Field{Key: "duration_ms", Value: float64(time.Since(start).Microseconds()) / 1000},
		)
	}
	return stats
}
