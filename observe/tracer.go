package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Span name prefixes.
const (
	SpanResolve = "toolcache.resolve"
	SpanExecute = "toolcache.exec"
)

// SpanName returns the deterministic span name for an operation on a tool,
// e.g. toolcache.resolve.web_search.
func SpanName(op, tool string) string {
	return op + "." + tool
}

// Tracer wraps OpenTelemetry tracing with tool-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for op on tool.
	StartSpan(ctx context.Context, op, tool string) (context.Context, trace.Span)

	// EndSpan ends the span, recording err and any extra attributes.
	EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, op, tool string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanName(op, tool),
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.Bool("tool.error", false),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("tool.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a tracer whose spans record nothing.
func NopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
