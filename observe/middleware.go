package observe

import (
	"context"
	"time"
)

// ExecuteFunc is the signature of a tool execution.
type ExecuteFunc func(ctx context.Context, tool string, args map[string]any) ([]byte, error)

// Middleware wraps tool execution with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: the wrapped function receives the span context.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
//   - Ownership: arguments and results pass through unmodified.
type Middleware struct {
	tracer  Tracer
	metrics CacheMetrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics CacheMetrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopCacheMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// Wrap instruments fn.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, tool string, args map[string]any) ([]byte, error) {
		ctx, span := m.tracer.StartSpan(ctx, SpanExecute, tool)
		start := time.Now()

		result, err := fn(ctx, tool, args)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, tool, duration, err)

		fields := []Field{
			{Key: "tool", Value: tool},
			{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
		}
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			m.logger.Error(ctx, "tool execution failed", fields...)
		} else {
			fields = append(fields, Field{Key: "bytes", Value: len(result)})
			m.logger.Debug(ctx, "tool execution completed", fields...)
		}

		return result, err
	}
}

// InstrumentExecutor wraps fn with the given components.
func InstrumentExecutor(fn ExecuteFunc, tracer Tracer, metrics CacheMetrics, logger Logger) ExecuteFunc {
	return NewMiddleware(tracer, metrics, logger).Wrap(fn)
}

// Instruments builds the tracer and cache metrics backed by obs.
func Instruments(obs Observer) (Tracer, CacheMetrics, error) {
	if obs == nil {
		return nil, nil, ErrNilObserver
	}
	metrics, err := NewCacheMetrics(obs.Meter())
	if err != nil {
		return nil, nil, err
	}
	return NewTracer(obs.Tracer()), metrics, nil
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	tracer, metrics, err := Instruments(obs)
	if err != nil {
		return nil, err
	}
	return NewMiddleware(tracer, metrics, obs.Logger()), nil
}
