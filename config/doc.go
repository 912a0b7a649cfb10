// Package config loads toolcache configuration from YAML and assembles the
// runtime from it.
//
// Loading runs in three steps. ExpandEnvStrict replaces ${VAR} references
// and fails when a referenced variable is unset. The document is decoded
// onto Default, so omitted fields keep their defaults and unknown fields are
// rejected. Validate then checks ranges and exporter names.
//
// A loaded Config builds a cache.Registry, an observe.Config, the embedding
// resilience.Guard and, when persistence is enabled, a persist.Store:
//
//	cfg, err := config.Load("toolcache.yaml")
//	if err != nil {
//		return err
//	}
//	coord, err := cfg.NewCoordinator(ctx, executor, logger, cache.WithEmbedder(embedder))
package config
