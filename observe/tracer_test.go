package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestSpanName(t *testing.T) {
	if got := SpanName(SpanResolve, "web_search"); got != "toolcache.resolve.web_search" {
		t.Errorf("SpanName() = %q", got)
	}
}

func TestTracer_SuccessSpan(t *testing.T) {
	tracer, rec := newTestTracer()

	_, span := tracer.StartSpan(context.Background(), SpanResolve, "weather")
	tracer.EndSpan(span, nil, attribute.String("cache.outcome", "exact"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "toolcache.resolve.weather" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["tool.name"].AsString() != "weather" {
		t.Errorf("tool.name = %v", attrs["tool.name"])
	}
	if attrs["cache.outcome"].AsString() != "exact" {
		t.Errorf("cache.outcome = %v", attrs["cache.outcome"])
	}
	if attrs["tool.error"].AsBool() {
		t.Error("tool.error should be false")
	}
}

func TestTracer_ErrorSpan(t *testing.T) {
	tracer, rec := newTestTracer()

	_, span := tracer.StartSpan(context.Background(), SpanExecute, "weather")
	tracer.EndSpan(span, errors.New("upstream 500"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "upstream 500" {
		t.Errorf("status = %+v, want Error/upstream 500", s.Status())
	}
	if len(s.Events()) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	_, span := tracer.StartSpan(context.Background(), SpanResolve, "noop")
	tracer.EndSpan(span, errors.New("ignored"))

	if NewTracer(nil) == nil {
		t.Fatal("NewTracer(nil) must return a tracer")
	}
}
