package cache

import (
	"context"

	"github.com/jonwraymond/toolcache/health"
	"github.com/jonwraymond/toolcache/resilience"
)

// HealthChecker reports the coordinator's health under the name
// "toolcache". An open embedding circuit is Degraded since lookups fall
// back to exact match; a failing durable tier is Unhealthy.
func (c *Coordinator) HealthChecker() health.Checker {
	agg := health.NewAggregator()
	agg.Register("embedding", health.NewCheckerFunc("embedding", c.checkEmbedding))
	agg.Register("exact_store", health.NewCapacityChecker(health.CapacityCheckerConfig{
		Name: "exact_store",
		Usage: func() (int, int) {
			return c.exact.Len(), c.maxEntries
		},
	}))
	if c.tier != nil {
		agg.Register("tier", health.NewPingChecker("tier", c.tier.Ping))
	}
	return agg.Checker("toolcache")
}

func (c *Coordinator) checkEmbedding(ctx context.Context) health.Result {
	if c.embed == nil {
		return health.Healthy("semantic lookup disabled")
	}
	switch c.embed.circuitState() {
	case resilience.StateOpen:
		return health.Degraded("embedding circuit open, exact match only")
	case resilience.StateHalfOpen:
		return health.Degraded("embedding circuit half-open")
	default:
		return health.Healthy("embedding available")
	}
}
