package persist

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	chromem "github.com/philippgille/chromem-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jonwraymond/toolcache/cache"
	"github.com/jonwraymond/toolcache/observe"
)

// Metadata keys stored on every vector document.
const (
	metaTool    = "tool"
	metaVersion = "version"
	metaCreated = "created_unix_nano"
	metaExpires = "expires_unix_nano"
)

// DefaultCandidates is how many nearest vectors Nearest inspects.
const DefaultCandidates = 4

// Sentinel errors for the durable tier.
var (
	ErrOpen   = errors.New("persist: open failed")
	ErrClosed = errors.New("persist: store is closed")
)

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file. Empty keeps rows in memory.
	Path string

	// VectorPath is the chromem-go directory. Empty keeps vectors in memory.
	VectorPath string

	// Compress gzips persisted vector documents.
	Compress bool

	// Candidates is how many nearest vectors are inspected per lookup so
	// expired neighbours can be skipped. Default: 4
	Candidates int

	// Logger receives corruption reports. Default: no-op
	Logger observe.Logger

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// Store is the durable cache tier.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ordering: vectors are written after their row and deleted before it,
//     so a vector never outlives the row it points to.
//   - Partitions: vectors live in one collection per versioned tool, so a
//     search never crosses tool versions.
//   - Errors: a row that fails its checksum is purged and reported with an
//     error wrapping cache.ErrStoreCorruption.
type Store struct {
	db      *gorm.DB
	vectors *chromem.DB

	// vecMu serializes vector writes against Nearest, which sizes its query
	// from the collection count.
	vecMu sync.RWMutex

	candidates int
	logger     observe.Logger
	clock      func() time.Time

	closeOnce sync.Once
	closed    atomic.Bool
}

// Open opens or creates the durable tier.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Candidates <= 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite %s: %w", ErrOpen, dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	// One connection keeps an in-memory database shared and avoids
	// SQLITE_BUSY between writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&entryRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrOpen, err)
	}

	var vectors *chromem.DB
	if cfg.VectorPath == "" {
		vectors = chromem.NewDB()
	} else {
		vectors, err = chromem.NewPersistentDB(cfg.VectorPath, cfg.Compress)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%w: vectors %s: %w", ErrOpen, cfg.VectorPath, err)
		}
	}

	return &Store{
		db:         db,
		vectors:    vectors,
		candidates: cfg.Candidates,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}, nil
}

// Load returns the live entry stored under key.
func (s *Store) Load(ctx context.Context, key string) (cache.Entry, bool, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("persist: load %s: %w", key, err)
	}

	if row.Checksum != row.checksum() {
		s.logger.Error(ctx, "corrupt cache row purged",
			observe.Field{Key: "tool", Value: row.Tool},
			observe.Field{Key: "key", Value: key},
		)
		if err := s.remove(ctx, row.partition(), key); err != nil {
			return cache.Entry{}, false, fmt.Errorf("%w: %s: purge: %w", cache.ErrStoreCorruption, key, err)
		}
		return cache.Entry{}, false, fmt.Errorf("%w: %s: checksum mismatch", cache.ErrStoreCorruption, key)
	}

	e := row.entry()
	if e.Expired(s.clock()) {
		// Reclaimed here rather than left for the next Purge.
		if err := s.remove(ctx, row.partition(), key); err != nil {
			s.logger.Warn(ctx, "expired cache row not removed",
				observe.Field{Key: "tool", Value: row.Tool},
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err},
			)
		}
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

// Nearest returns the most similar live vector of partition at or above
// threshold. Of equally similar vectors the most recently created wins.
func (s *Store) Nearest(ctx context.Context, partition string, embedding []float32, threshold float64) (cache.Match, bool, error) {
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()

	col := s.vectors.GetCollection(partition, nil)
	if col == nil {
		return cache.Match{}, false, nil
	}
	n := min(s.candidates, col.Count())
	if n == 0 {
		return cache.Match{}, false, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return cache.Match{}, false, fmt.Errorf("persist: nearest %s: %w", partition, err)
	}

	now := s.clock()
	var (
		best        cache.Match
		bestCreated int64
		found       bool
	)
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold || (found && sim < best.Similarity) {
			break
		}
		expires, err := strconv.ParseInt(r.Metadata[metaExpires], 10, 64)
		if err != nil {
			continue
		}
		expiresAt := time.Unix(0, expires)
		if !now.Before(expiresAt) {
			continue
		}
		// Missing on vectors written before it was recorded; those lose ties.
		created, _ := strconv.ParseInt(r.Metadata[metaCreated], 10, 64)
		if found && created <= bestCreated {
			continue
		}
		best = cache.Match{
			Key:        r.ID,
			Similarity: sim,
			ExpiresAt:  expiresAt,
			Embedding:  r.Embedding,
		}
		bestCreated = created
		found = true
	}
	if !found {
		return cache.Match{}, false, nil
	}
	best.Embedding = slices.Clone(best.Embedding)
	return best, true, nil
}

// Save upserts entry and, when embedding is set, its vector. Saving
// without an embedding drops any vector left from an earlier entry.
func (s *Store) Save(ctx context.Context, entry cache.Entry, embedding []float32) error {
	row := newEntryRow(entry)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persist: save %s: %w", entry.Key, err)
	}

	s.vecMu.Lock()
	defer s.vecMu.Unlock()

	if len(embedding) == 0 {
		return s.deleteVectorLocked(ctx, entry.Partition(), entry.Key)
	}

	col, err := s.vectors.GetOrCreateCollection(entry.Partition(), nil, nil)
	if err != nil {
		return fmt.Errorf("persist: collection %s: %w", entry.Partition(), err)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        entry.Key,
		Embedding: slices.Clone(embedding),
		Content:   entry.SourceQuery,
		Metadata: map[string]string{
			metaTool:    entry.Tool,
			metaVersion: entry.Version,
			metaCreated: strconv.FormatInt(entry.CreatedAt.UnixNano(), 10),
			metaExpires: strconv.FormatInt(entry.ExpiresAt.UnixNano(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("persist: save vector %s: %w", entry.Key, err)
	}
	return nil
}

// Delete removes key's vector, then its row. The stored row names the
// collection holding the vector; a missing row means there is no vector.
func (s *Store) Delete(ctx context.Context, _, key string) error {
	var row entryRow
	err := s.db.WithContext(ctx).Select("cache_key", "tool", "version").Where("cache_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist: delete %s: %w", key, err)
	}
	return s.remove(ctx, row.partition(), key)
}

func (s *Store) remove(ctx context.Context, partition, key string) error {
	s.vecMu.Lock()
	err := s.deleteVectorLocked(ctx, partition, key)
	s.vecMu.Unlock()
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&entryRow{}).Error; err != nil {
		return fmt.Errorf("persist: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteVectorLocked(ctx context.Context, partition string, keys ...string) error {
	col := s.vectors.GetCollection(partition, nil)
	if col == nil || len(keys) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, keys...); err != nil {
		return fmt.Errorf("persist: delete vectors of %s: %w", partition, err)
	}
	return nil
}

// DropTool removes every vector and row of tool, across all its versions.
func (s *Store) DropTool(ctx context.Context, tool string) error {
	var versions []string
	err := s.db.WithContext(ctx).Model(&entryRow{}).
		Where("tool = ?", tool).
		Distinct().
		Pluck("version", &versions).Error
	if err != nil {
		return fmt.Errorf("persist: drop %s: %w", tool, err)
	}

	s.vecMu.Lock()
	for _, version := range versions {
		partition := cache.VersionedTool(tool, version)
		if s.vectors.GetCollection(partition, nil) == nil {
			continue
		}
		if err = s.vectors.DeleteCollection(partition); err != nil {
			break
		}
	}
	s.vecMu.Unlock()
	if err != nil {
		return fmt.Errorf("persist: drop vectors of %s: %w", tool, err)
	}

	if err := s.db.WithContext(ctx).Where("tool = ?", tool).Delete(&entryRow{}).Error; err != nil {
		return fmt.Errorf("persist: drop %s: %w", tool, err)
	}
	return nil
}

// Purge removes every entry expired at now, vectors first, and returns the
// number of rows removed.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UnixNano()

	var expired []entryRow
	err := s.db.WithContext(ctx).
		Select("cache_key", "tool", "version").
		Where("expires_unix_nano <= ?", cutoff).
		Find(&expired).Error
	if err != nil {
		return 0, fmt.Errorf("persist: purge scan: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	byPartition := make(map[string][]string)
	for _, row := range expired {
		byPartition[row.partition()] = append(byPartition[row.partition()], row.CacheKey)
	}
	s.vecMu.Lock()
	for partition, keys := range byPartition {
		if err := s.deleteVectorLocked(ctx, partition, keys...); err != nil {
			s.vecMu.Unlock()
			return 0, err
		}
	}
	s.vecMu.Unlock()

	res := s.db.WithContext(ctx).Where("expires_unix_nano <= ?", cutoff).Delete(&entryRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("persist: purge: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Count returns the number of stored rows, expired ones included.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entryRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("persist: count: %w", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database. Persistent vectors are already on disk.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}

var _ cache.Tier = (*Store)(nil)
