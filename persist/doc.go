// Package persist provides the durable cache tier: exact rows in SQLite
// (gorm with the pure-Go glebarez driver) and query embeddings in a
// chromem-go database with one collection per tool.
//
// A Store survives restarts when both Path and VectorPath are set. Rows
// carry an xxhash checksum; a row that fails it is purged and reported as
// cache.ErrStoreCorruption.
package persist
