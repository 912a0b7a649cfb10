package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingExecutor returns "<tool>:<n>" for the n-th call unless fn is set.
type countingExecutor struct {
	calls atomic.Int64
	fn    func(ctx context.Context, tool string, args map[string]any) ([]byte, error)
}

func (e *countingExecutor) Execute(ctx context.Context, tool string, args map[string]any) ([]byte, error) {
	n := e.calls.Add(1)
	if e.fn != nil {
		return e.fn(ctx, tool, args)
	}
	return []byte(tool + ":" + itoa(n)), nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// tableEmbedder maps query text to fixed vectors.
type tableEmbedder struct {
	calls   atomic.Int64
	vectors map[string][]float32
	err     error
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	vec, ok := e.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vec, nil
}

func weatherEmbedder() *tableEmbedder {
	return &tableEmbedder{vectors: map[string][]float32{
		"today's weather in Shenzhen":     {1, 0, 0},
		"what's Shenzhen's weather today": {0.95, 0.3122499, 0},
		"stock price of ACME":             {0.4, 0.9165151, 0},
	}}
}

func semanticConfig() ToolConfig {
	return ToolConfig{Enabled: true, TTL: time.Hour, SemanticQueryKey: "q"}
}

// memTier is an in-memory Tier for coordinator tests.
type memTier struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]Entry
	vectors map[string]map[string][]float32
	loadErr error
	pingErr error
	loads   int
	saves   int
	closed  bool
}

func newMemTier(clock func() time.Time) *memTier {
	return &memTier{
		clock:   clock,
		entries: make(map[string]Entry),
		vectors: make(map[string]map[string][]float32),
	}
}

func (m *memTier) Load(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return Entry{}, false, m.loadErr
	}
	e, ok := m.entries[key]
	if !ok || e.Expired(m.clock()) {
		return Entry{}, false, nil
	}
	return e.clone(), true, nil
}

func (m *memTier) Nearest(_ context.Context, partition string, vec []float32, threshold float64) (Match, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	x := NewSemanticIndex(m.clock)
	for key, emb := range m.vectors[partition] {
		if e, ok := m.entries[key]; ok {
			_ = x.Insert(partition, emb, key, e.ExpiresAt)
		}
	}
	match, ok := x.Query(partition, vec, threshold)
	return match, ok, nil
}

func (m *memTier) Save(_ context.Context, e Entry, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.entries[e.Key] = e.clone()
	if vec != nil {
		if m.vectors[e.Partition()] == nil {
			m.vectors[e.Partition()] = make(map[string][]float32)
		}
		m.vectors[e.Partition()][e.Key] = vec
	}
	return nil
}

func (m *memTier) Delete(_ context.Context, _, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		delete(m.vectors[e.Partition()], key)
	}
	delete(m.entries, key)
	return nil
}

func (m *memTier) DropTool(_ context.Context, tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.Tool == tool {
			delete(m.vectors, e.Partition())
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *memTier) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, e := range m.entries {
		if e.Expired(now) {
			delete(m.vectors[e.Partition()], key)
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

func (m *memTier) Ping(context.Context) error { return m.pingErr }

func (m *memTier) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// recordingMetrics counts calls per tool and label.
type recordingMetrics struct {
	mu        sync.Mutex
	lookups   map[string]int
	dedup     int
	embedFail int
	evictions map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{lookups: map[string]int{}, evictions: map[string]int{}}
}

func (r *recordingMetrics) RecordLookup(_ context.Context, tool, outcome string) {
	r.mu.Lock()
	r.lookups[tool+"/"+outcome]++
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordDedup(context.Context, string) {
	r.mu.Lock()
	r.dedup++
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordEmbeddingFailure(context.Context, string) {
	r.mu.Lock()
	r.embedFail++
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordEviction(_ context.Context, tool, reason string, n int) {
	r.mu.Lock()
	r.evictions[tool+"/"+reason] += n
	r.mu.Unlock()
}

func (r *recordingMetrics) RecordExecution(context.Context, string, time.Duration, error) {}

func (r *recordingMetrics) lookup(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups[key]
}
