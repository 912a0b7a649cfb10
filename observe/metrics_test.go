package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func attributeKey(k string) attribute.Key { return attribute.Key(k) }

func TestCacheMetrics_Lookups(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLookup(ctx, "web_search", "exact")
	m.RecordLookup(ctx, "web_search", "exact")
	m.RecordLookup(ctx, "web_search", "semantic")
	m.RecordLookup(ctx, "weather", "miss")

	rm := collect(t, reader)

	tests := []struct {
		tool, outcome string
		want          int64
	}{
		{"web_search", "exact", 2},
		{"web_search", "semantic", 1},
		{"web_search", "miss", 0},
		{"weather", "miss", 1},
	}
	for _, tt := range tests {
		got := sumFor(t, rm, MetricLookups, map[string]string{"tool.name": tt.tool, "outcome": tt.outcome})
		if got != tt.want {
			t.Errorf("lookups{%s,%s} = %d, want %d", tt.tool, tt.outcome, got, tt.want)
		}
	}
}

func TestCacheMetrics_DedupAndEmbeddingFailures(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDedup(ctx, "web_search")
	m.RecordDedup(ctx, "web_search")
	m.RecordEmbeddingFailure(ctx, "web_search")

	rm := collect(t, reader)
	if got := sumFor(t, rm, MetricDedup, map[string]string{"tool.name": "web_search"}); got != 2 {
		t.Errorf("dedup = %d, want 2", got)
	}
	if got := sumFor(t, rm, MetricEmbeddingFailures, nil); got != 1 {
		t.Errorf("embedding failures = %d, want 1", got)
	}
}

func TestCacheMetrics_EvictionsIgnoreZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEviction(ctx, "web_search", "expired", 3)
	m.RecordEviction(ctx, "web_search", "capacity", 0)

	rm := collect(t, reader)
	if got := sumFor(t, rm, MetricEvictions, map[string]string{"reason": "expired"}); got != 3 {
		t.Errorf("evictions{expired} = %d, want 3", got)
	}
	if got := sumFor(t, rm, MetricEvictions, map[string]string{"reason": "capacity"}); got != 0 {
		t.Errorf("evictions{capacity} = %d, want 0", got)
	}
}

func TestCacheMetrics_Execution(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordExecution(ctx, "weather", 15*time.Millisecond, nil)
	m.RecordExecution(ctx, "weather", 5*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, MetricExecTotal, nil); got != 2 {
		t.Errorf("exec.total = %d, want 2", got)
	}
	if got := sumFor(t, rm, MetricExecErrors, nil); got != 1 {
		t.Errorf("exec.errors = %d, want 1", got)
	}

	found := findMetric(rm, MetricExecDuration)
	if found == nil {
		t.Fatalf("%s not found", MetricExecDuration)
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Fatalf("histogram data points = %+v, want one point with count 2", hist.DataPoints)
	}
	if hist.DataPoints[0].Sum != 20 {
		t.Errorf("histogram sum = %v, want 20", hist.DataPoints[0].Sum)
	}
}

func TestNopCacheMetrics_NoPanic(t *testing.T) {
	m := NopCacheMetrics()
	ctx := context.Background()
	m.RecordLookup(ctx, "t", "miss")
	m.RecordDedup(ctx, "t")
	m.RecordEmbeddingFailure(ctx, "t")
	m.RecordEviction(ctx, "t", "expired", 1)
	m.RecordExecution(ctx, "t", time.Millisecond, nil)
}
