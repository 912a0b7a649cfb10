package config

import (
	"context"
	"fmt"

	"github.com/jonwraymond/toolcache/cache"
	"github.com/jonwraymond/toolcache/observe"
	"github.com/jonwraymond/toolcache/persist"
	"github.com/jonwraymond/toolcache/resilience"
)

// Policy returns the coordinator caching policy.
func (c *Config) Policy() cache.Policy {
	p := cache.DefaultPolicy()
	p.DefaultTTL = c.Cache.DefaultTTL
	p.MaxTTL = c.Cache.MaxTTL
	p.AllowUnsafe = c.Cache.AllowUnsafe
	return p
}

// Registry returns a registry holding every configured tool.
func (c *Config) Registry() *cache.Registry {
	reg := cache.NewRegistry()
	c.ApplyTools(reg)
	return reg
}

// ApplyTools writes every configured tool into reg. Tools already in reg
// but absent from c are removed, so applying a reloaded Config invalidates
// whatever it dropped or changed.
func (c *Config) ApplyTools(reg *cache.Registry) {
	for _, name := range reg.Tools() {
		if _, ok := c.Tools[name]; !ok {
			reg.Remove(name)
		}
	}
	for _, name := range c.ToolNames() {
		tool := c.Tools[name]
		reg.Set(name, cache.ToolConfig{
			Enabled:          tool.Enabled,
			TTL:              tool.TTL,
			SemanticQueryKey: tool.SemanticQueryKey,
			Version:          tool.Version,
			Tags:             tool.Tags,
		})
	}
}

// EmbeddingGuard composes the embedding rate limiter, circuit breaker,
// retry and timeout.
func (c *Config) EmbeddingGuard() *resilience.Guard {
	e := c.Embedding
	opts := []resilience.GuardOption{resilience.WithTimeout(e.Timeout)}
	if e.RateLimit > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  e.RateLimit,
			Burst: e.Burst,
		})))
	}
	if e.MaxFailures > 0 {
		opts = append(opts, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  e.MaxFailures,
			ResetTimeout: e.ResetTimeout,
		})))
	}
	if e.RetryAttempts > 1 {
		opts = append(opts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts: e.RetryAttempts,
			Jitter:      true,
		})))
	}
	return resilience.NewGuard(opts...)
}

// OpenTier opens the durable tier. It returns nil when persistence is
// disabled.
func (c *Config) OpenTier(ctx context.Context, logger observe.Logger) (*persist.Store, error) {
	if !c.Persist.Enabled {
		return nil, nil
	}
	return persist.Open(ctx, persist.Config{
		Path:       c.Persist.Path,
		VectorPath: c.Persist.VectorPath,
		Compress:   c.Persist.Compress,
		Candidates: c.Persist.Candidates,
		Logger:     logger,
	})
}

// CoordinatorOptions returns the options described by c. When the options
// are handed to cache.NewCoordinator, Coordinator.Close releases what they
// opened; otherwise the caller must call release.
func (c *Config) CoordinatorOptions(ctx context.Context, logger observe.Logger) (opts []cache.Option, release func(), err error) {
	opts = []cache.Option{
		cache.WithSimilarityThreshold(c.Cache.SimilarityThreshold),
		cache.WithMaxEntries(c.Cache.MaxEntries),
		cache.WithPolicy(c.Policy()),
		cache.WithRegistry(c.Registry()),
		cache.WithToolTimeout(c.Cache.ToolTimeout),
		cache.WithEmbeddingGuard(c.EmbeddingGuard()),
		cache.WithEmbeddingTimeout(c.Embedding.Timeout),
		cache.WithEmbeddingDimension(c.Embedding.Dimension),
	}
	if c.Cache.MaxConcurrentExecutions > 0 {
		opts = append(opts, cache.WithMaxConcurrentExecutions(c.Cache.MaxConcurrentExecutions, c.Cache.ExecutionWait))
	}
	if logger != nil {
		opts = append(opts, cache.WithLogger(logger))
	}

	var memo *cache.EmbeddingMemo
	if c.Embedding.MemoSize > 0 {
		memo, err = cache.NewEmbeddingMemo(c.Embedding.MemoSize, c.Embedding.MemoTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("config: embedding memo: %w", err)
		}
		opts = append(opts, cache.WithEmbeddingMemo(memo))
	}

	tier, err := c.OpenTier(ctx, logger)
	if err != nil {
		memo.Close()
		return nil, nil, fmt.Errorf("config: persist: %w", err)
	}
	if tier != nil {
		opts = append(opts, cache.WithTier(tier))
	}

	release = func() {
		memo.Close()
		if tier != nil {
			_ = tier.Close()
		}
	}
	return opts, release, nil
}

// NewCoordinator builds a coordinator from c. extra options are applied
// last and override the configured ones.
func (c *Config) NewCoordinator(ctx context.Context, exec cache.Executor, logger observe.Logger, extra ...cache.Option) (*cache.Coordinator, error) {
	opts, release, err := c.CoordinatorOptions(ctx, logger)
	if err != nil {
		return nil, err
	}
	coord, err := cache.NewCoordinator(exec, append(opts, extra...)...)
	if err != nil {
		release()
		return nil, err
	}
	return coord, nil
}

// NewSweeper returns a sweeper for coord running at cache.sweep_interval.
func (c *Config) NewSweeper(coord *cache.Coordinator, logger observe.Logger) *cache.Sweeper {
	return cache.NewSweeper(coord, c.Cache.SweepInterval, logger)
}

// NewObserver builds the telemetry providers of the telemetry section. Pass
// it to NewCoordinator through cache.WithObserver and shut it down after the
// coordinator is closed.
func (c *Config) NewObserver(ctx context.Context) (observe.Observer, error) {
	obs, err := observe.NewObserver(ctx, c.ObserveConfig())
	if err != nil {
		return nil, fmt.Errorf("config: telemetry: %w", err)
	}
	return obs, nil
}
