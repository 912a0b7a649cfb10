package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/toolcache/observe"
	"github.com/jonwraymond/toolcache/resilience"
)

// maxFollowerRetries bounds how often a follower takes over from leaders
// that were abandoned by their callers.
const maxFollowerRetries = 3

// Outcome says how a call was resolved.
type Outcome int

const (
	// OutcomeMiss means the tool was executed.
	OutcomeMiss Outcome = iota
	// OutcomeExact means identical arguments were found in the cache.
	OutcomeExact
	// OutcomeSemantic means a similar enough query was found in the cache.
	OutcomeSemantic
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMiss:
		return "miss"
	case OutcomeExact:
		return "exact"
	case OutcomeSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Result is the outcome of Resolve. The payload is the same whatever the
// outcome.
type Result struct {
	Value   []byte
	Outcome Outcome

	// Key is the exact key that produced Value. For a semantic hit it is
	// the key of the matched entry, not of the current arguments.
	Key string

	// Similarity is set for semantic hits.
	Similarity float64

	// Shared reports that another concurrent caller produced Value.
	Shared bool
}

// Hit reports whether the value came from the cache.
func (r Result) Hit() bool {
	return r.Outcome == OutcomeExact || r.Outcome == OutcomeSemantic
}

// abandonedError reports an execution cut short because the caller that
// started it went away. It unwraps to the caller's context error.
type abandonedError struct {
	tool string
	err  error
}

func (e *abandonedError) Error() string {
	return fmt.Sprintf("cache: execution of %s abandoned: %v", e.tool, e.err)
}

func (e *abandonedError) Unwrap() error { return e.err }

// SweepStats reports what one sweep removed.
type SweepStats struct {
	Vectors int
	Entries int
	Tier    int
}

// Coordinator resolves tool calls through the exact store, the semantic
// index and the optional durable tier before falling back to the executor.
// Concurrent identical calls share one execution.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: embedding and tier failures never fail a call; tool errors are
//     returned unchanged and never cached.
type Coordinator struct {
	run      observe.ExecuteFunc
	keyer    Keyer
	exact    *MemoryStore
	index    *SemanticIndex
	tier     Tier
	registry *Registry
	policy   Policy
	embed    *embeddingClient

	threshold  float64
	maxEntries int
	toolGuard  *resilience.Guard

	flights singleflight.Group
	stats   sync.Map

	logger  observe.Logger
	metrics observe.CacheMetrics
	tracer  observe.Tracer
	clock   func() time.Time

	unsubscribe func()
	closed      atomic.Bool
}

// NewCoordinator creates a coordinator that runs exec on total misses.
func NewCoordinator(exec Executor, opts ...Option) (*Coordinator, error) {
	if exec == nil {
		return nil, ErrNilExecutor
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.threshold < -1 || o.threshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v outside [-1, 1]", ErrInvalidConfig, o.threshold)
	}
	if o.keyer == nil {
		o.keyer = NewDefaultKeyer()
	}
	if o.maxEntries <= 0 {
		o.maxEntries = DefaultMaxEntries
	}
	if err := o.instrument(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		keyer:      o.keyer,
		index:      NewSemanticIndex(o.clock),
		tier:       o.tier,
		registry:   o.registry,
		policy:     o.policy,
		threshold:  o.threshold,
		maxEntries: o.maxEntries,
		logger:     o.logger,
		metrics:    o.metrics,
		tracer:     o.tracer,
		clock:      o.clock,
	}
	c.exact = NewMemoryStore(MemoryStoreConfig{
		MaxEntries: o.maxEntries,
		Clock:      o.clock,
		OnRemove:   c.onRemove,
	})
	c.run = observe.InstrumentExecutor(exec.Execute, o.tracer, o.metrics, o.logger)

	var guardOpts []resilience.GuardOption
	if o.toolTimeout > 0 {
		guardOpts = append(guardOpts, resilience.WithTimeout(o.toolTimeout))
	}
	if o.maxConcurrent > 0 {
		guardOpts = append(guardOpts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: o.maxConcurrent,
			MaxWait:       o.maxWait,
		})))
	}
	if len(guardOpts) > 0 {
		c.toolGuard = resilience.NewGuard(guardOpts...)
	}

	if o.embedder != nil {
		guard := o.embedGuard
		if guard == nil {
			guard = resilience.NewGuard(resilience.WithTimeout(o.embedTimeout))
		}
		c.embed = &embeddingClient{
			embedder: o.embedder,
			guard:    guard,
			memo:     o.memo,
			dim:      o.dim,
			timeout:  o.embedTimeout,
		}
	}

	if c.registry == nil {
		c.registry = NewRegistry()
	}
	c.unsubscribe = c.registry.Subscribe(c.onConfigChange)
	return c, nil
}

func (o *options) instrument() error {
	if o.observer != nil {
		tracer, metrics, err := observe.Instruments(o.observer)
		if err != nil {
			return err
		}
		if o.tracer == nil {
			o.tracer = tracer
		}
		if o.metrics == nil {
			o.metrics = metrics
		}
		if o.logger == nil {
			o.logger = o.observer.Logger()
		}
	}
	if o.logger == nil {
		o.logger = observe.NopLogger()
	}
	if o.metrics == nil {
		o.metrics = observe.NopCacheMetrics()
	}
	if o.tracer == nil {
		o.tracer = observe.NopTracer()
	}
	return nil
}

// Registry returns the registry consulted by Execute.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Execute resolves a call using tool's registered config. Unregistered
// tools are executed without caching.
func (c *Coordinator) Execute(ctx context.Context, tool string, args map[string]any) (Result, error) {
	return c.Resolve(ctx, tool, args, c.registry.Get(tool))
}

// Resolve returns the cached result for the call or executes the tool.
//
// Lookup order is exact store, durable exact row, semantic index, durable
// nearest neighbour, then execution. Concurrent calls with the same key
// share the lookup and the execution.
func (c *Coordinator) Resolve(ctx context.Context, tool string, args map[string]any, cfg ToolConfig) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrCoordinatorDone
	}

	ctx, span := c.tracer.StartSpan(ctx, observe.SpanResolve, tool)
	res, err := c.resolve(ctx, tool, args, cfg)
	c.tracer.EndSpan(span, err,
		attribute.String("cache.outcome", res.Outcome.String()),
		attribute.Bool("cache.shared", res.Shared),
	)
	return res, err
}

func (c *Coordinator) resolve(ctx context.Context, tool string, args map[string]any, cfg ToolConfig) (Result, error) {
	counters := c.counters(tool)

	if !c.policy.ShouldCache(tool, cfg) {
		counters.bypass.Add(1)
		c.metrics.RecordLookup(ctx, tool, "bypass")
		value, err := c.execute(ctx, tool, args)
		if err != nil {
			return Result{}, err
		}
		return Result{Value: value, Outcome: OutcomeMiss}, nil
	}

	key, err := c.keyer.Key(VersionedTool(tool, cfg.Version), args)
	if err != nil {
		return Result{}, err
	}

	if res, ok := c.lookupExact(ctx, tool, key); ok {
		c.record(ctx, tool, counters, res)
		return res, nil
	}

	for attempt := 0; ; attempt++ {
		leader := false
		ch := c.flights.DoChan(key, func() (any, error) {
			leader = true
			return c.lead(ctx, tool, key, args, cfg)
		})

		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}

		if r.Err != nil {
			var abandoned *abandonedError
			if !leader && errors.As(r.Err, &abandoned) && ctx.Err() == nil && attempt < maxFollowerRetries {
				c.logger.Debug(ctx, "leader abandoned, retrying",
					observe.Field{Key: "tool", Value: tool},
					observe.Field{Key: "attempt", Value: attempt + 1},
				)
				continue
			}
			return Result{}, r.Err
		}

		res := r.Val.(Result)
		if !leader {
			res.Shared = true
			res.Value = bytes.Clone(res.Value)
			counters.dedup.Add(1)
			c.metrics.RecordDedup(ctx, tool)
		}
		c.record(ctx, tool, counters, res)
		return res, nil
	}
}

// lead runs once per key at a time: it re-checks the exact tiers, searches
// the semantic tiers and finally executes and stores.
func (c *Coordinator) lead(ctx context.Context, tool, key string, args map[string]any, cfg ToolConfig) (Result, error) {
	if res, ok := c.lookupExact(ctx, tool, key); ok {
		return res, nil
	}

	var (
		text string
		vec  []float32
	)
	if cfg.SemanticQueryKey != "" {
		text, vec = c.embedQuery(ctx, tool, args, cfg.SemanticQueryKey)
		if vec != nil {
			if res, ok := c.lookupSemantic(ctx, tool, VersionedTool(tool, cfg.Version), vec); ok {
				return res, nil
			}
		}
	}

	value, err := c.execute(ctx, tool, args)
	if err != nil {
		return Result{}, err
	}

	c.store(ctx, tool, cfg.Version, key, value, c.policy.EffectiveTTL(cfg), text, vec)
	return Result{Value: value, Outcome: OutcomeMiss, Key: key}, nil
}

func (c *Coordinator) record(ctx context.Context, tool string, counters *toolCounters, res Result) {
	switch res.Outcome {
	case OutcomeExact:
		counters.exact.Add(1)
	case OutcomeSemantic:
		counters.semantic.Add(1)
	default:
		counters.miss.Add(1)
	}
	c.metrics.RecordLookup(ctx, tool, res.Outcome.String())
}

// lookupEntry finds a live entry in memory, then in the durable tier,
// backfilling memory from the tier.
func (c *Coordinator) lookupEntry(ctx context.Context, tool, key string) (Entry, bool) {
	if e, ok := c.exact.Get(ctx, key); ok {
		return e, true
	}
	if c.tier == nil {
		return Entry{}, false
	}

	e, ok, err := c.tier.Load(ctx, key)
	if err != nil {
		c.tierFailed(ctx, "load", tool, err)
		return Entry{}, false
	}
	if !ok || e.Expired(c.clock()) {
		return Entry{}, false
	}
	if err := c.exact.Put(ctx, e); err != nil {
		c.logger.Warn(ctx, "backfill failed",
			observe.Field{Key: "tool", Value: tool},
			observe.Field{Key: "error", Value: err},
		)
	}
	return e, true
}

func (c *Coordinator) lookupExact(ctx context.Context, tool, key string) (Result, bool) {
	e, ok := c.lookupEntry(ctx, tool, key)
	if !ok {
		return Result{}, false
	}
	return Result{Value: e.Value, Outcome: OutcomeExact, Key: key}, true
}

// lookupSemantic searches partition, the versioned tool name, in the index
// and then in the durable tier. Every candidate is re-validated through the
// exact tiers before it is served.
func (c *Coordinator) lookupSemantic(ctx context.Context, tool, partition string, vec []float32) (Result, bool) {
	if m, ok := c.index.Query(partition, vec, c.threshold); ok {
		if e, live := c.lookupEntry(ctx, tool, m.Key); live {
			return Result{Value: e.Value, Outcome: OutcomeSemantic, Key: m.Key, Similarity: m.Similarity}, true
		}
		c.index.Remove(partition, m.Key)
		c.counters(tool).stale.Add(1)
		c.logger.Debug(ctx, "stale semantic candidate dropped",
			observe.Field{Key: "tool", Value: tool},
			observe.Field{Key: "key", Value: m.Key},
		)
		return Result{}, false
	}

	if c.tier == nil {
		return Result{}, false
	}
	m, ok, err := c.tier.Nearest(ctx, partition, vec, c.threshold)
	if err != nil {
		c.tierFailed(ctx, "nearest", tool, err)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	e, live := c.lookupEntry(ctx, tool, m.Key)
	if !live {
		c.counters(tool).stale.Add(1)
		return Result{}, false
	}
	if len(m.Embedding) > 0 {
		if err := c.index.Insert(partition, m.Embedding, e.Key, e.ExpiresAt); err != nil {
			c.logger.Debug(ctx, "semantic backfill skipped",
				observe.Field{Key: "tool", Value: tool},
				observe.Field{Key: "error", Value: err},
			)
		}
	}
	return Result{Value: e.Value, Outcome: OutcomeSemantic, Key: m.Key, Similarity: m.Similarity}, true
}

// embedQuery returns the normalized query text and its embedding. A nil
// vector means the semantic lookup is skipped.
func (c *Coordinator) embedQuery(ctx context.Context, tool string, args map[string]any, field string) (string, []float32) {
	text, ok := queryText(args, field)
	if !ok || c.embed == nil {
		return text, nil
	}

	vec, err := c.embed.embed(ctx, text)
	if err != nil {
		c.counters(tool).embedFail.Add(1)
		c.metrics.RecordEmbeddingFailure(ctx, tool)
		c.logger.Warn(ctx, "embedding unavailable, using exact match only",
			observe.Field{Key: "tool", Value: tool},
			observe.Field{Key: "error", Value: err},
		)
		return text, nil
	}
	return text, vec
}

// execute runs the tool through the tool guard. A panic becomes
// ErrToolExecutionFailed; a call whose context ended is reported as
// abandoned.
func (c *Coordinator) execute(ctx context.Context, tool string, args map[string]any) ([]byte, error) {
	value, err := resilience.Call(ctx, c.toolGuard, func(ctx context.Context) (value []byte, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %s: panic: %v", ErrToolExecutionFailed, tool, p)
			}
		}()
		return c.run(ctx, tool, args)
	})
	if err == nil {
		return value, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, resilience.ErrTimeout) || errors.Is(err, ctxErr)) {
		return nil, &abandonedError{tool: tool, err: ctxErr}
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, resilience.ErrBulkheadFull) {
		return nil, fmt.Errorf("%w: %s: %w", ErrToolExecutionFailed, tool, err)
	}
	return nil, err
}

// store writes a fresh result to the exact store, the index and the tier,
// in that order, so the index never points ahead of the exact store.
func (c *Coordinator) store(ctx context.Context, tool, version, key string, value []byte, ttl time.Duration, text string, vec []float32) {
	entry := NewEntry(tool, key, value, ttl, c.clock())
	entry.Version = version
	entry.SourceQuery = text

	if err := c.exact.Put(ctx, entry); err != nil {
		c.logger.Warn(ctx, "cache write failed",
			observe.Field{Key: "tool", Value: tool},
			observe.Field{Key: "error", Value: err},
		)
		return
	}
	if vec != nil {
		if err := c.index.Insert(entry.Partition(), vec, key, entry.ExpiresAt); err != nil {
			c.logger.Warn(ctx, "semantic insert failed",
				observe.Field{Key: "tool", Value: tool},
				observe.Field{Key: "error", Value: err},
			)
		}
	}
	if c.tier != nil {
		if err := c.tier.Save(context.WithoutCancel(ctx), entry, vec); err != nil {
			c.tierFailed(ctx, "save", tool, err)
		}
	}
}

func (c *Coordinator) tierFailed(ctx context.Context, op, tool string, err error) {
	level := c.logger.Warn
	if errors.Is(err, ErrStoreCorruption) {
		level = c.logger.Error
	}
	level(ctx, "durable tier "+op+" failed",
		observe.Field{Key: "tool", Value: tool},
		observe.Field{Key: "error", Value: err},
	)
}

// onRemove keeps the index consistent with the exact store.
func (c *Coordinator) onRemove(entries []Entry, reason RemovalReason) {
	perTool := make(map[string]int)
	for _, e := range entries {
		c.index.Evict(e.Partition(), e.Key, e.ExpiresAt)
		perTool[e.Tool]++
	}
	ctx := context.Background()
	for tool, n := range perTool {
		c.counters(tool).evictions.Add(uint64(n))
		c.metrics.RecordEviction(ctx, tool, reason.String(), n)
	}
}

func (c *Coordinator) onConfigChange(tool string, old, cur ToolConfig, removed bool) {
	if !old.Enabled {
		return
	}
	if !removed && cur.Enabled && old.Version == cur.Version && old.SemanticQueryKey == cur.SemanticQueryKey {
		return
	}

	ctx := context.Background()
	if err := c.InvalidateTool(ctx, tool); err != nil {
		c.tierFailed(ctx, "invalidate", tool, err)
	}
	c.logger.Info(ctx, "tool cache invalidated after config change",
		observe.Field{Key: "tool", Value: tool},
		observe.Field{Key: "enabled", Value: cur.Enabled},
		observe.Field{Key: "version", Value: cur.Version},
	)
}

// Invalidate removes the cached result for one call, using tool's
// registered version.
func (c *Coordinator) Invalidate(ctx context.Context, tool string, args map[string]any) error {
	partition := VersionedTool(tool, c.registry.Get(tool).Version)
	key, err := c.keyer.Key(partition, args)
	if err != nil {
		return err
	}
	c.index.Remove(partition, key)
	if err := c.exact.Delete(ctx, key); err != nil {
		return err
	}
	if c.tier != nil {
		return c.tier.Delete(ctx, tool, key)
	}
	return nil
}

// InvalidateTool removes everything cached for tool, every version, in both
// tiers.
func (c *Coordinator) InvalidateTool(ctx context.Context, tool string) error {
	c.index.DropTool(tool)
	c.exact.DropTool(tool)
	if c.tier != nil {
		return c.tier.DropTool(ctx, tool)
	}
	return nil
}

// Sweep removes expired records: vectors first, then entries, then the
// durable tier.
func (c *Coordinator) Sweep(ctx context.Context) (SweepStats, error) {
	now := c.clock()
	var stats SweepStats
	for _, n := range c.index.Sweep(now) {
		stats.Vectors += n
	}
	stats.Entries = len(c.exact.Sweep(now))

	if c.tier == nil {
		return stats, nil
	}
	n, err := c.tier.Purge(ctx, now)
	stats.Tier = n
	return stats, err
}

// Len returns the number of entries in the in-memory exact store.
func (c *Coordinator) Len() int {
	return c.exact.Len()
}

// Clear empties the in-memory stores. The durable tier is kept.
func (c *Coordinator) Clear() {
	c.index.Clear()
	c.exact.Clear()
	c.embed.clearMemo()
}

// Close stops accepting calls and releases the memo and the tier.
func (c *Coordinator) Close(_ context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.unsubscribe()
	if c.embed != nil {
		c.embed.memo.Close()
	}
	if c.tier != nil {
		return c.tier.Close()
	}
	return nil
}
