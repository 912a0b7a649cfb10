package cache

import (
	"slices"
	"strings"
	"sync/atomic"
)

// ToolStats are the per-tool counters used to tune thresholds and TTLs.
type ToolStats struct {
	Tool string

	ExactHits    uint64
	SemanticHits uint64
	Misses       uint64
	Bypassed     uint64

	// Deduplicated counts callers served by another caller's execution.
	Deduplicated uint64

	EmbeddingFailures uint64

	// StaleSemantic counts semantic candidates demoted to a miss because
	// their exact entry was gone.
	StaleSemantic uint64

	Evictions uint64
}

// Lookups returns the number of resolved calls that used the cache.
func (s ToolStats) Lookups() uint64 {
	return s.ExactHits + s.SemanticHits + s.Misses
}

// HitRatio returns hits over lookups, or 0 before any lookup.
func (s ToolStats) HitRatio() float64 {
	n := s.Lookups()
	if n == 0 {
		return 0
	}
	return float64(s.ExactHits+s.SemanticHits) / float64(n)
}

type toolCounters struct {
	exact, semantic, miss, bypass atomic.Uint64
	dedup, embedFail, stale       atomic.Uint64
	evictions                     atomic.Uint64
}

func (c *toolCounters) snapshot(tool string) ToolStats {
	return ToolStats{
		Tool:              tool,
		ExactHits:         c.exact.Load(),
		SemanticHits:      c.semantic.Load(),
		Misses:            c.miss.Load(),
		Bypassed:          c.bypass.Load(),
		Deduplicated:      c.dedup.Load(),
		EmbeddingFailures: c.embedFail.Load(),
		StaleSemantic:     c.stale.Load(),
		Evictions:         c.evictions.Load(),
	}
}

func (c *Coordinator) counters(tool string) *toolCounters {
	if v, ok := c.stats.Load(tool); ok {
		return v.(*toolCounters)
	}
	v, _ := c.stats.LoadOrStore(tool, &toolCounters{})
	return v.(*toolCounters)
}

// Stats returns the counters for tool.
func (c *Coordinator) Stats(tool string) ToolStats {
	v, ok := c.stats.Load(tool)
	if !ok {
		return ToolStats{Tool: tool}
	}
	return v.(*toolCounters).snapshot(tool)
}

// AllStats returns the counters of every tool seen so far, sorted by tool.
func (c *Coordinator) AllStats() []ToolStats {
	var out []ToolStats
	c.stats.Range(func(k, v any) bool {
		out = append(out, v.(*toolCounters).snapshot(k.(string)))
		return true
	})
	slices.SortFunc(out, func(a, b ToolStats) int {
		return strings.Compare(a.Tool, b.Tool)
	})
	return out
}
