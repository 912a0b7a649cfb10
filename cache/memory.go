package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	shardCount = 32

	// DefaultMaxEntries bounds a MemoryStore created without a limit.
	DefaultMaxEntries = 10000
)

// RemovalReason says why an entry left a MemoryStore.
type RemovalReason int

const (
	// RemovedExpired means the entry outlived its TTL.
	RemovedExpired RemovalReason = iota
	// RemovedEvicted means the entry was displaced by capacity pressure.
	RemovedEvicted
	// RemovedDeleted means the entry was deleted or invalidated explicitly.
	RemovedDeleted
)

func (r RemovalReason) String() string {
	switch r {
	case RemovedExpired:
		return "expired"
	case RemovedEvicted:
		return "evicted"
	case RemovedDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RemovalFunc is called after entries leave the store, outside any lock.
// Replacing a key with a newer entry does not report the old one.
type RemovalFunc func(entries []Entry, reason RemovalReason)

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// MaxEntries is the total capacity across shards.
	// Default: 10000
	MaxEntries int

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	// OnRemove receives every entry that expires, is evicted or deleted.
	OnRemove RemovalFunc
}

// MemoryStore is a sharded, bounded, in-memory Store. Keys are spread over
// shards by FNV-1a hash; each shard is an LRU behind its own mutex. Keys in
// different shards never contend. Keys sharing a shard share its mutex, which
// is held only for the map update and never across OnRemove or another
// blocking call, so one key never waits on another key's slow work.
type MemoryStore struct {
	shards   [shardCount]*memoryShard
	clock    func() time.Time
	onRemove RemovalFunc
}

type memoryShard struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]

	// evicted collects capacity evictions made by the current Add.
	adding  bool
	evicted []Entry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(config MemoryStoreConfig) *MemoryStore {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	perShard := (config.MaxEntries + shardCount - 1) / shardCount
	s := &MemoryStore{clock: config.Clock, onRemove: config.OnRemove}
	for i := range s.shards {
		shard := &memoryShard{}
		lru, err := simplelru.NewLRU[string, *Entry](perShard, shard.onEvict)
		if err != nil {
			// Unreachable: perShard is always positive.
			panic(err)
		}
		shard.lru = lru
		s.shards[i] = shard
	}
	return s
}

func (sh *memoryShard) onEvict(_ string, e *Entry) {
	if sh.adding {
		sh.evicted = append(sh.evicted, *e)
	}
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Get retrieves a live entry. An expired entry is removed and reported as
// a miss.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool) {
	sh := s.shard(key)
	now := s.clock()

	sh.mu.Lock()
	e, ok := sh.lru.Get(key)
	if !ok {
		sh.mu.Unlock()
		return Entry{}, false
	}
	if e.Expired(now) {
		sh.lru.Remove(key)
		expired := *e
		sh.mu.Unlock()
		s.notify([]Entry{expired}, RemovedExpired)
		return Entry{}, false
	}
	entry := *e
	sh.mu.Unlock()

	// Stored values are never mutated, so the copy can happen unlocked.
	return entry.clone(), true
}

// Put stores a copy of entry.
func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	if err := ValidateKey(entry.Key); err != nil {
		return err
	}
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		return nil
	}
	stored := entry.clone()

	sh := s.shard(entry.Key)
	sh.mu.Lock()
	if cur, ok := sh.lru.Peek(entry.Key); ok && stored.CreatedAt.Before(cur.CreatedAt) {
		sh.mu.Unlock()
		return nil
	}
	sh.adding = true
	sh.lru.Add(entry.Key, &stored)
	sh.adding = false
	evicted := sh.evicted
	sh.evicted = nil
	sh.mu.Unlock()

	s.notify(evicted, RemovedEvicted)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	e, ok := sh.lru.Peek(key)
	if ok {
		sh.lru.Remove(key)
	}
	sh.mu.Unlock()

	if ok {
		s.notify([]Entry{*e}, RemovedDeleted)
	}
	return nil
}

// Sweep removes every entry expired at now, one shard at a time, and
// returns them.
func (s *MemoryStore) Sweep(now time.Time) []Entry {
	var removed []Entry
	for _, sh := range s.shards {
		var batch []Entry
		sh.mu.Lock()
		for _, key := range sh.lru.Keys() {
			e, ok := sh.lru.Peek(key)
			if ok && e.Expired(now) {
				sh.lru.Remove(key)
				batch = append(batch, *e)
			}
		}
		sh.mu.Unlock()

		s.notify(batch, RemovedExpired)
		removed = append(removed, batch...)
	}
	return removed
}

// DropTool removes every entry belonging to tool and returns them.
func (s *MemoryStore) DropTool(tool string) []Entry {
	var removed []Entry
	for _, sh := range s.shards {
		var batch []Entry
		sh.mu.Lock()
		for _, key := range sh.lru.Keys() {
			e, ok := sh.lru.Peek(key)
			if ok && e.Tool == tool {
				sh.lru.Remove(key)
				batch = append(batch, *e)
			}
		}
		sh.mu.Unlock()

		s.notify(batch, RemovedDeleted)
		removed = append(removed, batch...)
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.lru.Len()
		sh.mu.Unlock()
	}
	return n
}

// Clear removes every entry without reporting removals.
func (s *MemoryStore) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.lru.Purge()
		sh.mu.Unlock()
	}
}

func (s *MemoryStore) notify(entries []Entry, reason RemovalReason) {
	if len(entries) == 0 || s.onRemove == nil {
		return
	}
	s.onRemove(entries, reason)
}

var _ Store = (*MemoryStore)(nil)
