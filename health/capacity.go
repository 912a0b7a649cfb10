package health

import (
	"context"
	"fmt"
)

// CapacityCheckerConfig configures a CapacityChecker.
type CapacityCheckerConfig struct {
	// Name identifies the checker. Default: "capacity"
	Name string

	// Usage returns the number of items held and the configured limit.
	Usage func() (used, limit int)

	// WarningThreshold is the fill ratio that reports Degraded.
	// Value should be between 0 and 1. Default: 0.9
	WarningThreshold float64
}

// CapacityChecker reports how full a bounded store is. A store at its limit
// still works but evicts live entries to admit new ones, so the checker
// never reports worse than Degraded.
type CapacityChecker struct {
	config CapacityCheckerConfig
}

// NewCapacityChecker creates a capacity checker.
func NewCapacityChecker(config CapacityCheckerConfig) *CapacityChecker {
	if config.Name == "" {
		config.Name = "capacity"
	}
	if config.WarningThreshold <= 0 || config.WarningThreshold > 1 {
		config.WarningThreshold = 0.9
	}
	return &CapacityChecker{config: config}
}

// Name returns the name of this checker.
func (c *CapacityChecker) Name() string {
	return c.config.Name
}

// Check reports the current fill ratio.
func (c *CapacityChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}
	if c.config.Usage == nil {
		return Healthy("no usage source")
	}

	used, limit := c.config.Usage()
	details := map[string]any{"used": used, "limit": limit}
	if limit <= 0 {
		return Healthy("unbounded").WithDetails(details)
	}

	ratio := float64(used) / float64(limit)
	details["usage_percent"] = ratio * 100

	if ratio >= c.config.WarningThreshold {
		return Degraded(fmt.Sprintf("usage high: %.1f%%", ratio*100)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("usage normal: %.1f%%", ratio*100)).WithDetails(details)
}
