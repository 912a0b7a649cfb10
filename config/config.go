package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolcache/cache"
	"github.com/jonwraymond/toolcache/observe"
)

// Defaults applied by Default.
const (
	DefaultMemoSize     = 10000
	DefaultMemoTTL      = 10 * time.Minute
	DefaultServiceName  = "toolcache"
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
)

// Config is the root configuration document.
type Config struct {
	Cache     CacheConfig           `yaml:"cache"`
	Embedding EmbeddingConfig       `yaml:"embedding"`
	Persist   PersistConfig         `yaml:"persist"`
	Telemetry TelemetryConfig       `yaml:"telemetry"`
	Tools     map[string]ToolConfig `yaml:"tools"`
}

// CacheConfig configures the coordinator and its in-memory tier.
type CacheConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit, in [-1, 1].
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// DefaultTTL applies to tools that set no TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxTTL clamps every tool TTL. Zero means no maximum.
	MaxTTL time.Duration `yaml:"max_ttl"`

	// MaxEntries bounds the in-memory exact store.
	MaxEntries int `yaml:"max_entries"`

	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ToolTimeout bounds each tool execution. Zero relies on the caller.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// MaxConcurrentExecutions caps concurrent tool executions. Zero is
	// unbounded.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`

	// ExecutionWait is how long an execution waits for a free slot.
	ExecutionWait time.Duration `yaml:"execution_wait"`

	// AllowUnsafe caches tools tagged as side-effecting.
	AllowUnsafe bool `yaml:"allow_unsafe"`
}

// EmbeddingConfig configures how query text is embedded.
type EmbeddingConfig struct {
	// Dimension pins the vector size. Zero accepts whatever the first
	// vector of each tool has.
	Dimension int `yaml:"dimension"`

	Timeout time.Duration `yaml:"timeout"`

	// MemoSize is the number of vectors memoized by query text. Zero
	// disables the memo.
	MemoSize int           `yaml:"memo_size"`
	MemoTTL  time.Duration `yaml:"memo_ttl"`

	// RateLimit is embedding calls per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// MaxFailures opens the circuit breaker after that many consecutive
	// failures. Zero disables the breaker.
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// RetryAttempts includes the first call. Values below 2 disable retry.
	RetryAttempts int `yaml:"retry_attempts"`
}

// PersistConfig configures the durable tier.
type PersistConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	VectorPath string `yaml:"vector_path"`
	Compress   bool   `yaml:"compress"`
	Candidates int    `yaml:"candidates"`
}

// TelemetryConfig mirrors observe.Config.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	Version     string `yaml:"version"`

	Tracing struct {
		Enabled   bool    `yaml:"enabled"`
		Exporter  string  `yaml:"exporter"`
		SamplePct float64 `yaml:"sample_pct"`
	} `yaml:"tracing"`

	Metrics struct {
		Enabled  bool   `yaml:"enabled"`
		Exporter string `yaml:"exporter"`
	} `yaml:"metrics"`

	Logging struct {
		Enabled bool   `yaml:"enabled"`
		Level   string `yaml:"level"`
	} `yaml:"logging"`
}

// ToolConfig is the cache configuration of one tool.
type ToolConfig struct {
	Enabled          bool          `yaml:"enabled"`
	TTL              time.Duration `yaml:"ttl"`
	SemanticQueryKey string        `yaml:"semantic_query_key"`
	Version          string        `yaml:"version"`
	Tags             []string      `yaml:"tags"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			SimilarityThreshold: cache.DefaultSimilarityThreshold,
			DefaultTTL:          cache.DefaultTTL,
			MaxEntries:          cache.DefaultMaxEntries,
			SweepInterval:       cache.DefaultSweepInterval,
		},
		Embedding: EmbeddingConfig{
			Timeout:      cache.DefaultEmbeddingTimeout,
			MemoSize:     DefaultMemoSize,
			MemoTTL:      DefaultMemoTTL,
			MaxFailures:  DefaultMaxFailures,
			ResetTimeout: DefaultResetTimeout,
		},
		Tools: make(map[string]ToolConfig),
	}
	cfg.Telemetry.ServiceName = DefaultServiceName
	cfg.Telemetry.Tracing.Exporter = "none"
	cfg.Telemetry.Tracing.SamplePct = 1.0
	cfg.Telemetry.Metrics.Exporter = "none"
	cfg.Telemetry.Logging.Enabled = true
	cfg.Telemetry.Logging.Level = "info"
	return cfg
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references in data, decodes it onto Default
// and validates the result. Tools without a TTL inherit cache.default_ttl.
func Parse(data []byte) (*Config, error) {
	expanded, err := ExpandEnvStrict(string(data))
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	for name, tool := range cfg.Tools {
		if tool.TTL == 0 {
			tool.TTL = cfg.Cache.DefaultTTL
			cfg.Tools[name] = tool
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	cc := c.Cache
	if cc.SimilarityThreshold < -1 || cc.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: cache.similarity_threshold %v outside [-1, 1]", ErrInvalid, cc.SimilarityThreshold)
	}
	if cc.DefaultTTL <= 0 {
		return fmt.Errorf("%w: cache.default_ttl must be positive", ErrInvalid)
	}
	if cc.MaxTTL < 0 || cc.ToolTimeout < 0 || cc.ExecutionWait < 0 {
		return fmt.Errorf("%w: cache durations must not be negative", ErrInvalid)
	}
	if cc.MaxEntries <= 0 {
		return fmt.Errorf("%w: cache.max_entries must be positive", ErrInvalid)
	}
	if cc.SweepInterval <= 0 {
		return fmt.Errorf("%w: cache.sweep_interval must be positive", ErrInvalid)
	}
	if cc.MaxConcurrentExecutions < 0 {
		return fmt.Errorf("%w: cache.max_concurrent_executions must not be negative", ErrInvalid)
	}

	e := c.Embedding
	if e.Dimension < 0 || e.MemoSize < 0 || e.Burst < 0 || e.MaxFailures < 0 || e.RetryAttempts < 0 {
		return fmt.Errorf("%w: embedding sizes must not be negative", ErrInvalid)
	}
	if e.Timeout <= 0 {
		return fmt.Errorf("%w: embedding.timeout must be positive", ErrInvalid)
	}
	if e.MemoSize > 0 && e.MemoTTL <= 0 {
		return fmt.Errorf("%w: embedding.memo_ttl must be positive when the memo is enabled", ErrInvalid)
	}
	if e.RateLimit < 0 {
		return fmt.Errorf("%w: embedding.rate_limit must not be negative", ErrInvalid)
	}

	if c.Persist.Candidates < 0 {
		return fmt.Errorf("%w: persist.candidates must not be negative", ErrInvalid)
	}

	for _, name := range c.ToolNames() {
		tool := c.Tools[name]
		if tool.Enabled && tool.TTL <= 0 {
			return fmt.Errorf("%w: tools.%s.ttl must be positive", ErrInvalid, name)
		}
		if _, err := cache.NewDefaultKeyer().Key(cache.VersionedTool(name, tool.Version), nil); err != nil {
			return fmt.Errorf("%w: tools.%s: %w", ErrInvalid, name, err)
		}
	}

	obsCfg := c.ObserveConfig()
	if err := obsCfg.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %w", ErrInvalid, err)
	}
	return nil
}

// ToolNames returns the configured tool names, sorted.
func (c *Config) ToolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ObserveConfig converts the telemetry section.
func (c *Config) ObserveConfig() observe.Config {
	t := c.Telemetry
	return observe.Config{
		ServiceName: t.ServiceName,
		Version:     t.Version,
		Tracing: observe.TracingConfig{
			Enabled:   t.Tracing.Enabled,
			Exporter:  t.Tracing.Exporter,
			SamplePct: t.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  t.Metrics.Enabled,
			Exporter: t.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: t.Logging.Enabled,
			Level:   t.Logging.Level,
		},
	}
}
