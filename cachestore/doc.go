// Package cachestore persists materialized datasets for cache steps.
//
// A dataset is created unsealed under a cache key, filled with Append as the
// upstream stream is drained, and sealed once complete. Only sealed datasets
// are visible to Find; creating a dataset under an existing key replaces it.
// Stream reads a dataset back as a stream.Stream in pages ordered by append
// position.
//
// The store is GORM over SQLite; rows are kept as JSON arrays of
// stream.Value.
package cachestore
