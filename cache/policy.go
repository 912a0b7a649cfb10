package cache

import (
	"strings"
	"time"
)

// DefaultTTL is the entry lifetime for a tool whose TTL is unset.
const DefaultTTL = time.Hour

// ToolConfig is the per-tool cache configuration looked up at resolve time.
type ToolConfig struct {
	// Enabled is the master switch. A disabled tool always executes and
	// never touches either store.
	Enabled bool

	// TTL is the exact-store entry lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// SemanticQueryKey names the string argument embedded for semantic
	// lookup. Empty means exact-only caching.
	SemanticQueryKey string

	// Version is folded into keys so results from an older tool
	// implementation are never served.
	Version string

	// Tags describe the tool. Tools tagged as side-effecting are not cached
	// unless the policy allows it.
	Tags []string
}

// SkipRule determines whether to skip caching for a given tool.
// Returns true if caching should be skipped.
type SkipRule func(tool string, tags []string) bool

// UnsafeTags are tags that indicate a tool has side effects and should not be cached.
var UnsafeTags = []string{"write", "danger", "unsafe", "mutation", "delete"}

// DefaultSkipRule skips caching for tools with unsafe tags.
// Tag matching is case-insensitive.
func DefaultSkipRule(_ string, tags []string) bool {
	for _, tag := range tags {
		tagLower := strings.ToLower(tag)
		for _, unsafe := range UnsafeTags {
			if tagLower == unsafe {
				return true
			}
		}
	}
	return false
}

// Policy holds the coordinator-wide caching rules applied on top of each
// tool's config.
type Policy struct {
	// DefaultTTL replaces a tool TTL of zero. Default: DefaultTTL
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Tool TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// AllowUnsafe permits caching tools with unsafe tags.
	AllowUnsafe bool

	// SkipRule decides which tools are side-effecting. Default: DefaultSkipRule
	SkipRule SkipRule
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 1 hour, MaxTTL: none, AllowUnsafe: false
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: DefaultTTL,
		SkipRule:   DefaultSkipRule,
	}
}

// ShouldCache reports whether calls to tool under cfg may use the cache.
func (p Policy) ShouldCache(tool string, cfg ToolConfig) bool {
	if !cfg.Enabled {
		return false
	}
	if p.AllowUnsafe {
		return true
	}
	skip := p.SkipRule
	if skip == nil {
		skip = DefaultSkipRule
	}
	return !skip(tool, cfg.Tags)
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(cfg ToolConfig) time.Duration {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
