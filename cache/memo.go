package cache

import (
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto"
)

// EmbeddingMemo remembers recent query embeddings so repeated query text
// skips the embedding provider. Only successful embeddings are stored.
// A nil memo is valid and remembers nothing.
type EmbeddingMemo struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewEmbeddingMemo creates a memo holding up to maxVectors embeddings for
// ttl each.
func NewEmbeddingMemo(maxVectors int, ttl time.Duration) (*EmbeddingMemo, error) {
	if maxVectors <= 0 {
		return nil, fmt.Errorf("%w: memo size must be positive", ErrInvalidConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: memo ttl must be positive", ErrInvalidConfig)
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(maxVectors) * 10,
		MaxCost:            int64(maxVectors),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &EmbeddingMemo{cache: c, ttl: ttl}, nil
}

// Get returns a copy of the embedding remembered for text.
func (m *EmbeddingMemo) Get(text string) ([]float32, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

// Set remembers a copy of vec for text. Admission is best-effort.
func (m *EmbeddingMemo) Set(text string, vec []float32) {
	if m == nil {
		return
	}
	m.cache.SetWithTTL(text, slices.Clone(vec), 1, m.ttl)
}

// Wait blocks until pending writes are applied.
func (m *EmbeddingMemo) Wait() {
	if m == nil {
		return
	}
	m.cache.Wait()
}

// Clear forgets every embedding.
func (m *EmbeddingMemo) Clear() {
	if m == nil {
		return
	}
	m.cache.Clear()
}

// Close releases the memo's background goroutines.
func (m *EmbeddingMemo) Close() {
	if m == nil {
		return
	}
	m.cache.Close()
}
