// Package health provides health checking primitives.
//
// A Checker reports Healthy, Degraded or Unhealthy. The cache reports
// Degraded while its embedding provider is unavailable (exact lookups keep
// working) and Unhealthy when its durable tier cannot be reached.
//
//	agg := health.NewAggregator()
//	agg.Register("toolcache", coordinator.HealthChecker())
//	results := agg.CheckAll(ctx)
//	overall := health.OverallStatus(results)
package health
