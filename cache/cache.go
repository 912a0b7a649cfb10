package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")

	// ErrInvalidArgument reports tool arguments that cannot be canonicalized.
	// The call fails without executing the tool.
	ErrInvalidArgument = errors.New("cache: invalid argument")

	// ErrEmbeddingUnavailable reports that no usable embedding could be
	// produced. The coordinator never returns it; it degrades to exact-only.
	ErrEmbeddingUnavailable = errors.New("cache: embedding unavailable")

	// ErrInvalidEmbedding reports an empty, non-finite or zero vector.
	ErrInvalidEmbedding = errors.New("cache: invalid embedding")

	// ErrDimensionMismatch reports a vector whose length differs from the
	// dimension already established for the tool.
	ErrDimensionMismatch = errors.New("cache: embedding dimension mismatch")

	// ErrToolExecutionFailed wraps failures of the execution machinery
	// itself (timeouts, panics, capacity). Errors returned by the tool are
	// passed through unchanged.
	ErrToolExecutionFailed = errors.New("cache: tool execution failed")

	// ErrStoreCorruption reports a durable entry that failed validation.
	// The entry is purged and treated as a miss.
	ErrStoreCorruption = errors.New("cache: store corruption")

	ErrNilExecutor     = errors.New("cache: executor is nil")
	ErrInvalidConfig   = errors.New("cache: invalid configuration")
	ErrCoordinatorDone = errors.New("cache: coordinator is closed")
)

// Entry is a memoized tool result.
type Entry struct {
	Key       string
	Tool      string
	Version   string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time

	// SourceQuery is the normalized semantic query text, if any.
	SourceQuery string
}

// NewEntry builds an entry that expires ttl after now.
func NewEntry(tool, key string, value []byte, ttl time.Duration, now time.Time) Entry {
	return Entry{
		Key:       key,
		Tool:      tool,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Partition names the semantic partition of the entry: the tool and its
// version, as folded into the key.
func (e Entry) Partition() string {
	return VersionedTool(e.Tool, e.Version)
}

// Expired reports whether the entry is dead at now. An entry is dead at the
// exact instant of ExpiresAt.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func (e Entry) clone() Entry {
	e.Value = bytes.Clone(e.Value)
	return e
}

// Match is the nearest live neighbour found by a semantic lookup.
type Match struct {
	Key        string
	Similarity float64
	ExpiresAt  time.Time

	// Embedding is the stored vector, filled in by tiers so a hit can be
	// copied into the in-memory index.
	Embedding []float32
}

// Store is the exact-match key/value tier.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: Get never errors; it returns (Entry{}, false) on miss or expiry.
//   - Ownership: returned values are copies the caller may modify.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)

	// Put stores entry. An entry that expires at or before its creation is
	// ignored. An entry older than the stored one is ignored.
	Put(ctx context.Context, entry Entry) error

	// Delete removes key. Idempotent.
	Delete(ctx context.Context, key string) error
}

// Tier is an optional durable tier consulted after the in-memory stores.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Expiry: Load and Nearest must never return an expired entry.
//   - Errors: corruption is reported with an error wrapping ErrStoreCorruption
//     after the bad entry has been removed.
type Tier interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	// Nearest searches one partition, the versioned tool name of
	// Entry.Partition, so results of another tool version are never seen.
	Nearest(ctx context.Context, partition string, embedding []float32, threshold float64) (Match, bool, error)
	Save(ctx context.Context, entry Entry, embedding []float32) error
	Delete(ctx context.Context, tool, key string) error
	DropTool(ctx context.Context, tool string) error

	// Purge removes every entry expired at now and returns how many.
	Purge(ctx context.Context, now time.Time) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
