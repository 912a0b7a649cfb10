package persist

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jonwraymond/toolcache/cache"
)

// entryRow is one exact cache entry.
type entryRow struct {
	CacheKey        string `gorm:"column:cache_key;primaryKey;size:512"`
	Tool            string `gorm:"column:tool;index;not null"`
	Version         string `gorm:"column:version;not null;default:''"`
	Value           []byte `gorm:"column:value"`
	Checksum        int64  `gorm:"column:checksum;not null"`
	SourceQuery     string `gorm:"column:source_query"`
	CreatedUnixNano int64  `gorm:"column:created_unix_nano;not null"`
	ExpiresUnixNano int64  `gorm:"column:expires_unix_nano;index;not null"`
}

// TableName returns the table name.
func (entryRow) TableName() string {
	return "tool_cache_entries"
}

func newEntryRow(e cache.Entry) entryRow {
	row := entryRow{
		CacheKey:        e.Key,
		Tool:            e.Tool,
		Version:         e.Version,
		Value:           e.Value,
		SourceQuery:     e.SourceQuery,
		CreatedUnixNano: e.CreatedAt.UnixNano(),
		ExpiresUnixNano: e.ExpiresAt.UnixNano(),
	}
	row.Checksum = row.checksum()
	return row
}

// checksum covers every field a reader relies on.
func (r entryRow) checksum() int64 {
	d := xxhash.New()
	_, _ = d.WriteString(r.CacheKey)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(r.Tool)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(r.Version)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(r.Value)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(strconv.FormatInt(r.CreatedUnixNano, 10))
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(strconv.FormatInt(r.ExpiresUnixNano, 10))
	return int64(d.Sum64())
}

func (r entryRow) entry() cache.Entry {
	return cache.Entry{
		Key:         r.CacheKey,
		Tool:        r.Tool,
		Version:     r.Version,
		Value:       r.Value,
		SourceQuery: r.SourceQuery,
		CreatedAt:   time.Unix(0, r.CreatedUnixNano),
		ExpiresAt:   time.Unix(0, r.ExpiresUnixNano),
	}
}

// partition names the vector collection holding the row's embedding.
func (r entryRow) partition() string {
	return cache.VersionedTool(r.Tool, r.Version)
}
