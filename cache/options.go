package cache

import (
	"time"

	"github.com/jonwraymond/toolcache/observe"
	"github.com/jonwraymond/toolcache/resilience"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a
// semantic hit.
const DefaultSimilarityThreshold = 0.85

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	keyer         Keyer
	embedder      Embedder
	embedGuard    *resilience.Guard
	memo          *EmbeddingMemo
	dim           int
	embedTimeout  time.Duration
	tier          Tier
	registry      *Registry
	policy        Policy
	threshold     float64
	maxEntries    int
	toolTimeout   time.Duration
	maxConcurrent int
	maxWait       time.Duration
	logger        observe.Logger
	metrics       observe.CacheMetrics
	tracer        observe.Tracer
	observer      observe.Observer
	clock         func() time.Time
}

func defaultOptions() options {
	return options{
		keyer:        NewDefaultKeyer(),
		embedTimeout: DefaultEmbeddingTimeout,
		policy:       DefaultPolicy(),
		threshold:    DefaultSimilarityThreshold,
		maxEntries:   DefaultMaxEntries,
		clock:        time.Now,
	}
}

// WithKeyer replaces the DefaultKeyer.
func WithKeyer(k Keyer) Option {
	return func(o *options) { o.keyer = k }
}

// WithEmbedder enables semantic lookup for tools that name a query key.
func WithEmbedder(e Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithEmbeddingGuard runs embedding calls through g. Without it a guard
// bounding each call by the embedding timeout is used.
func WithEmbeddingGuard(g *resilience.Guard) Option {
	return func(o *options) { o.embedGuard = g }
}

// WithEmbeddingMemo reuses embeddings of repeated query text. The
// coordinator takes ownership of m: Close closes it, so m must not be shared
// with another coordinator.
func WithEmbeddingMemo(m *EmbeddingMemo) Option {
	return func(o *options) { o.memo = m }
}

// WithEmbeddingDimension rejects embeddings that do not have dim components.
// Zero accepts any dimension; each tool still fixes its own on first insert.
func WithEmbeddingDimension(dim int) Option {
	return func(o *options) { o.dim = dim }
}

// WithEmbeddingTimeout bounds the whole embedding step, retries included.
// Zero disables the bound.
func WithEmbeddingTimeout(d time.Duration) Option {
	return func(o *options) { o.embedTimeout = d }
}

// WithTier adds a durable tier behind the in-memory stores. The coordinator
// takes ownership of t and Close closes it.
func WithTier(t Tier) Option {
	return func(o *options) { o.tier = t }
}

// WithRegistry sets the registry consulted by Execute. Config changes made
// through it invalidate the affected tool.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithSimilarityThreshold sets the minimum cosine similarity in [-1, 1].
func WithSimilarityThreshold(t float64) Option {
	return func(o *options) { o.threshold = t }
}

// WithMaxEntries bounds the in-memory exact store.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithToolTimeout bounds each tool execution. Zero relies on the caller's
// context alone.
func WithToolTimeout(d time.Duration) Option {
	return func(o *options) { o.toolTimeout = d }
}

// WithMaxConcurrentExecutions caps concurrent tool executions at n, waiting
// up to wait for a slot.
func WithMaxConcurrentExecutions(n int, wait time.Duration) Option {
	return func(o *options) {
		o.maxConcurrent = n
		o.maxWait = wait
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m observe.CacheMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t observe.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithObserver takes the logger, tracer and metrics from obs. Explicit
// WithLogger, WithTracer and WithMetrics options win.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithClock sets the time source used for expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}
