package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MetadataCacheRepo manages the metadata_cache table (one row per
// cached metadata document, per spec.md §3/§4.3).
type MetadataCacheRepo struct{ db *DB }

func NewMetadataCacheRepo(db *DB) *MetadataCacheRepo { return &MetadataCacheRepo{db: db} }

func (r *MetadataCacheRepo) Get(ctx context.Context, name string) (*MetadataCache, error) {
	var m MetadataCache
	err := r.db.GetContext(ctx, &m, `SELECT * FROM metadata_cache WHERE package_name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert writes (or rewrites) the cache row for name after a fresh
// upstream fetch.
func (r *MetadataCacheRepo) Upsert(ctx context.Context, name string, sizeBytes int64, filePath string, etag *string) error {
	now := time.Now().UTC()
	existing, err := r.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO metadata_cache (package_name, size_bytes, file_path, etag, created_at, updated_at, last_accessed, access_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)`, name, sizeBytes, filePath, etag, now, now, now)
		return err
	}
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE metadata_cache SET size_bytes = ?, file_path = ?, etag = ?, updated_at = ?, last_accessed = ?, access_count = access_count + 1
		WHERE id = ?`, sizeBytes, filePath, etag, now, now, existing.ID)
	return err
}

// TouchRevalidated refreshes updated_at/last_accessed after a 304 from
// upstream (the cached bytes are still authoritative; only the
// freshness window resets).
func (r *MetadataCacheRepo) TouchRevalidated(ctx context.Context, name string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE metadata_cache SET updated_at = ?, last_accessed = ?, access_count = access_count + 1
		WHERE package_name = ?`, now, now, name)
	return err
}

// TouchAccessed bumps last_accessed/access_count without changing
// freshness, used when degraded-mode serves stale bytes.
func (r *MetadataCacheRepo) TouchAccessed(ctx context.Context, name string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE metadata_cache SET last_accessed = ?, access_count = access_count + 1
		WHERE package_name = ?`, now, name)
	return err
}

// Invalidate removes the cache row for name (used by the publish
// pipeline, spec.md §4.4 step 8).
func (r *MetadataCacheRepo) Invalidate(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM metadata_cache WHERE package_name = ?`, name)
	return err
}

// ClearAll deletes every metadata_cache row, for the cache-clear admin
// operation; the caller is responsible for removing the blobs.
func (r *MetadataCacheRepo) ClearAll(ctx context.Context) ([]MetadataCache, error) {
	var rows []MetadataCache
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM metadata_cache`); err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM metadata_cache`); err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of cached metadata documents, for analytics.
func (r *MetadataCacheRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM metadata_cache`)
	return n, err
}

// CacheStatsRepo manages the singleton cache_stats row.
type CacheStatsRepo struct{ db *DB }

func NewCacheStatsRepo(db *DB) *CacheStatsRepo { return &CacheStatsRepo{db: db} }

func (r *CacheStatsRepo) Get(ctx context.Context) (*CacheStats, error) {
	var s CacheStats
	err := r.db.GetContext(ctx, &s, `SELECT * FROM cache_stats WHERE id = 1`)
	return &s, err
}

// Add flushes accumulated hit/miss deltas into the singleton row. It is
// called periodically by the in-memory counter's flush ticker, not on
// every lookup (spec.md §5).
func (r *CacheStatsRepo) Add(ctx context.Context, hitDelta, missDelta int64) error {
	if hitDelta == 0 && missDelta == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE cache_stats SET hit_count = hit_count + ?, miss_count = miss_count + ? WHERE id = 1`,
		hitDelta, missDelta)
	return err
}

// Reset zeroes the counters, used by the cache-clear admin operation.
func (r *CacheStatsRepo) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cache_stats SET hit_count = 0, miss_count = 0 WHERE id = 1`)
	return err
}
