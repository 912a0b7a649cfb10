package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names recorded by CacheMetrics.
const (
	MetricLookups           = "toolcache.lookups"
	MetricDedup             = "toolcache.dedup"
	MetricEmbeddingFailures = "toolcache.embedding.failures"
	MetricEvictions         = "toolcache.evictions"
	MetricExecTotal         = "toolcache.exec.total"
	MetricExecErrors        = "toolcache.exec.errors"
	MetricExecDuration      = "toolcache.exec.duration_ms"
)

// CacheMetrics records cache and tool execution metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly; ctx is only used for exemplars.
// - Errors: implementations must not panic.
type CacheMetrics interface {
	// RecordLookup counts one resolved call by outcome (exact, semantic, miss, bypass).
	RecordLookup(ctx context.Context, tool, outcome string)

	// RecordDedup counts a caller that received another caller's result.
	RecordDedup(ctx context.Context, tool string)

	// RecordEmbeddingFailure counts a semantic lookup skipped because the
	// embedding could not be produced.
	RecordEmbeddingFailure(ctx context.Context, tool string)

	// RecordEviction counts entries removed by expiry, capacity or invalidation.
	RecordEviction(ctx context.Context, tool, reason string, n int)

	// RecordExecution records one tool execution.
	RecordExecution(ctx context.Context, tool string, duration time.Duration, err error)
}

type cacheMetrics struct {
	lookups           metric.Int64Counter
	dedup             metric.Int64Counter
	embeddingFailures metric.Int64Counter
	evictions         metric.Int64Counter
	execTotal         metric.Int64Counter
	execErrors        metric.Int64Counter
	execDuration      metric.Float64Histogram
}

// NewCacheMetrics creates the cache instruments on meter.
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	var (
		m   cacheMetrics
		err error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.lookups, MetricLookups, "Tool calls resolved, by outcome", "{call}"},
		{&m.dedup, MetricDedup, "Callers served by a concurrent identical call", "{call}"},
		{&m.embeddingFailures, MetricEmbeddingFailures, "Semantic lookups skipped after an embedding failure", "{error}"},
		{&m.evictions, MetricEvictions, "Cache entries removed", "{entry}"},
		{&m.execTotal, MetricExecTotal, "Tool executions", "{call}"},
		{&m.execErrors, MetricExecErrors, "Failed tool executions", "{error}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.execDuration, err = meter.Float64Histogram(
		MetricExecDuration,
		metric.WithDescription("Tool execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *cacheMetrics) RecordLookup(ctx context.Context, tool, outcome string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool.name", tool),
		attribute.String("outcome", outcome),
	))
}

func (m *cacheMetrics) RecordDedup(ctx context.Context, tool string) {
	m.dedup.Add(ctx, 1, metric.WithAttributes(attribute.String("tool.name", tool)))
}

func (m *cacheMetrics) RecordEmbeddingFailure(ctx context.Context, tool string) {
	m.embeddingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("tool.name", tool)))
}

func (m *cacheMetrics) RecordEviction(ctx context.Context, tool, reason string, n int) {
	if n <= 0 {
		return
	}
	m.evictions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("tool.name", tool),
		attribute.String("reason", reason),
	))
}

func (m *cacheMetrics) RecordExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("tool.name", tool))

	m.execTotal.Add(ctx, 1, opt)
	if err != nil {
		m.execErrors.Add(ctx, 1, opt)
	}
	m.execDuration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

type noopMetrics struct{}

// NopCacheMetrics returns metrics that record nothing.
func NopCacheMetrics() CacheMetrics { return noopMetrics{} }

func (noopMetrics) RecordLookup(context.Context, string, string)                   {}
func (noopMetrics) RecordDedup(context.Context, string)                            {}
func (noopMetrics) RecordEmbeddingFailure(context.Context, string)                 {}
func (noopMetrics) RecordEviction(context.Context, string, string, int)            {}
func (noopMetrics) RecordExecution(context.Context, string, time.Duration, error) {}
