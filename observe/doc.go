// Package observe provides the observability primitives used by the cache:
// an OpenTelemetry tracer and meter, cache metrics, a zap-backed structured
// logger with field redaction, and tool execution instrumentation.
//
// It performs no I/O beyond exporter setup. A Prometheus scrape endpoint is
// available through Observer.MetricsHandler when the prometheus metrics
// exporter is selected.
package observe
