// Package cache memoizes tool results in two tiers: an exact store keyed by
// canonical arguments and a per-tool semantic index over query embeddings.
//
// A Coordinator resolves each call exact first, then semantic, then by
// executing the tool, and shares one execution among concurrent identical
// calls. An optional durable Tier sits behind the in-memory stores, and a
// Sweeper reclaims expired entries in the background.
package cache
