package cache

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// VectorRecord links a query embedding to the exact key it resolved to.
// ExpiresAt mirrors the referenced entry's expiry.
type VectorRecord struct {
	Key       string
	Embedding []float32
	Norm      float64
	ExpiresAt time.Time

	seq uint64
}

// SemanticIndex is a partitioned nearest-neighbour index using brute-force
// cosine similarity. The coordinator names partitions by versioned tool
// (see VersionedTool). Each partition has its own lock; it fixes its vector
// dimension on first insert and forgets it once emptied.
type SemanticIndex struct {
	mu    sync.RWMutex
	parts map[string]*partition
	clock func() time.Time
	seq   atomic.Uint64
}

type partition struct {
	mu      sync.RWMutex
	dim     int
	records map[string]*VectorRecord
}

// NewSemanticIndex creates an empty index. A nil clock uses time.Now.
func NewSemanticIndex(clock func() time.Time) *SemanticIndex {
	if clock == nil {
		clock = time.Now
	}
	return &SemanticIndex{
		parts: make(map[string]*partition),
		clock: clock,
	}
}

// ValidateEmbedding checks that vec is non-empty, finite and non-zero, and,
// when dim > 0, that it has dim components.
func ValidateEmbedding(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	if norm(vec) == 0 {
		return fmt.Errorf("%w: zero vector", ErrInvalidEmbedding)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidEmbedding, i, v)
		}
	}
	return nil
}

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Insert adds or replaces the record for key in tool's partition.
func (x *SemanticIndex) Insert(tool string, embedding []float32, key string, expiresAt time.Time) error {
	if err := ValidateEmbedding(embedding, 0); err != nil {
		return err
	}

	p := x.partition(tool, true)
	rec := &VectorRecord{
		Key:       key,
		Embedding: slices.Clone(embedding),
		Norm:      norm(embedding),
		ExpiresAt: expiresAt,
		seq:       x.seq.Add(1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.records) == 0 {
		p.dim = len(embedding)
	}
	if len(embedding) != p.dim {
		return fmt.Errorf("%w: tool %s: got %d, want %d", ErrDimensionMismatch, tool, len(embedding), p.dim)
	}
	p.records[key] = rec
	return nil
}

// Query returns the live record most similar to embedding with similarity
// at or above threshold. Equal similarities prefer the most recent insert.
// Expired records are skipped and removed.
func (x *SemanticIndex) Query(tool string, embedding []float32, threshold float64) (Match, bool) {
	p := x.partition(tool, false)
	if p == nil {
		return Match{}, false
	}
	if ValidateEmbedding(embedding, 0) != nil {
		return Match{}, false
	}
	qnorm := norm(embedding)
	now := x.clock()

	var (
		best    *VectorRecord
		bestSim float64
		expired []*VectorRecord
	)

	p.mu.RLock()
	if len(embedding) != p.dim {
		p.mu.RUnlock()
		return Match{}, false
	}
	for _, rec := range p.records {
		if !now.Before(rec.ExpiresAt) {
			expired = append(expired, rec)
			continue
		}
		sim := cosine(embedding, qnorm, rec)
		if sim < threshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && rec.seq > best.seq) {
			best, bestSim = rec, sim
		}
	}
	p.mu.RUnlock()

	if len(expired) > 0 {
		p.mu.Lock()
		for _, rec := range expired {
			// Only delete the record we saw; a newer insert may have replaced it.
			if p.records[rec.Key] == rec {
				delete(p.records, rec.Key)
			}
		}
		p.mu.Unlock()
	}

	if best == nil {
		return Match{}, false
	}
	return Match{
		Key:        best.Key,
		Similarity: bestSim,
		ExpiresAt:  best.ExpiresAt,
		Embedding:  slices.Clone(best.Embedding),
	}, true
}

func cosine(q []float32, qnorm float64, rec *VectorRecord) float64 {
	var dot float64
	for i, v := range q {
		dot += float64(v) * float64(rec.Embedding[i])
	}
	sim := dot / (qnorm * rec.Norm)
	return max(-1, min(1, sim))
}

// Evict removes key's record only if it still mirrors expiresAt, so a
// record re-inserted for a newer entry survives the removal of the old one.
func (x *SemanticIndex) Evict(tool, key string, expiresAt time.Time) bool {
	p := x.partition(tool, false)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[key]
	if !ok || !rec.ExpiresAt.Equal(expiresAt) {
		return false
	}
	delete(p.records, key)
	return true
}

// Remove deletes key's record unconditionally.
func (x *SemanticIndex) Remove(tool, key string) bool {
	p := x.partition(tool, false)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.records[key]
	delete(p.records, key)
	return ok
}

// Sweep removes every record expired at now, one partition at a time, and
// returns the number removed per tool.
func (x *SemanticIndex) Sweep(now time.Time) map[string]int {
	removed := make(map[string]int)
	for tool, p := range x.snapshot() {
		p.mu.Lock()
		for key, rec := range p.records {
			if !now.Before(rec.ExpiresAt) {
				delete(p.records, key)
				removed[tool]++
			}
		}
		p.mu.Unlock()
	}
	return removed
}

// DropTool removes every record of tool, in the partition named tool and in
// each versioned partition tool@version, and returns how many there were.
func (x *SemanticIndex) DropTool(tool string) int {
	n := 0
	for name, p := range x.snapshot() {
		if name != tool && !strings.HasPrefix(name, tool+"@") {
			continue
		}
		p.mu.Lock()
		n += len(p.records)
		p.records = make(map[string]*VectorRecord)
		p.dim = 0
		p.mu.Unlock()
	}
	return n
}

// Len returns the number of records for tool.
func (x *SemanticIndex) Len(tool string) int {
	p := x.partition(tool, false)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Clear drops every partition.
func (x *SemanticIndex) Clear() {
	x.mu.Lock()
	x.parts = make(map[string]*partition)
	x.mu.Unlock()
}

func (x *SemanticIndex) partition(tool string, create bool) *partition {
	x.mu.RLock()
	p := x.parts[tool]
	x.mu.RUnlock()
	if p != nil || !create {
		return p
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if p = x.parts[tool]; p == nil {
		p = &partition{records: make(map[string]*VectorRecord)}
		x.parts[tool] = p
	}
	return p
}

func (x *SemanticIndex) snapshot() map[string]*partition {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]*partition, len(x.parts))
	for tool, p := range x.parts {
		out[tool] = p
	}
	return out
}
