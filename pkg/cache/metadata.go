// Package cache implements the two-tier disk cache: metadata documents
// (TTL-fresh, ETag-revalidated) and tarballs (permanent, content
// addressed by name+filename), each deduplicated against concurrent
// fetches of the same key via singleflight.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/upstream"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// MetadataStore is the metadata-document tier of the cache. Tarball
// lookups keep their own CacheStats counters (cache.TarballStore);
// this tier is purely disk+db, unmetered.
type MetadataStore struct {
	dir     string
	ttl     time.Duration
	repo    *store.MetadataCacheRepo
	enabled bool
	group   singleflight.Group
	logger  *zap.SugaredLogger
}

func NewMetadataStore(dir string, ttl time.Duration, db *store.DB, enabled bool, logger *zap.SugaredLogger) *MetadataStore {
	return &MetadataStore{
		dir:     dir,
		ttl:     ttl,
		repo:    store.NewMetadataCacheRepo(db),
		enabled: enabled,
		logger:  logger.Named("cache.metadata"),
	}
}

// Get returns the packument bytes for name, serving from disk if the
// TTL window hasn't elapsed, conditionally revalidating with upstream
// otherwise, and falling back to stale bytes if upstream is
// unreachable (degraded mode, spec.md §4.3). When the store is
// disabled, both disk tiers are bypassed entirely and every call goes
// straight to upstream (spec.md §6's CACHE_ENABLED knob).
func (s *MetadataStore) Get(ctx context.Context, name string, up *upstream.Client) ([]byte, error) {
	if !s.enabled {
		result, err := up.GetMetadata(ctx, name, "")
		if err != nil {
			return nil, err
		}
		return result.Body, nil
	}
	v, err, _ := s.group.Do(name, func() (any, error) {
		return s.fetch(ctx, name, up)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *MetadataStore) fetch(ctx context.Context, name string, up *upstream.Client) ([]byte, error) {
	row, err := s.repo.Get(ctx, name)
	switch {
	case err == nil:
		fresh := time.Since(row.UpdatedAt) < s.ttl
		if fresh {
			body, readErr := os.ReadFile(filepath.Clean(row.FilePath))
			if readErr == nil {
				_ = s.repo.TouchAccessed(ctx, name)
				return body, nil
			}
			s.logger.Warnw("cached metadata file missing, refetching", "package", name, "err", readErr)
			row.ETag = nil
		}

		etag := ""
		if row.ETag != nil {
			etag = *row.ETag
		}
		result, upErr := up.GetMetadata(ctx, name, etag)
		if upErr != nil {
			return s.degradedFallback(ctx, name, row.FilePath, upErr)
		}
		if result.NotModified {
			_ = s.repo.TouchRevalidated(ctx, name)
			return os.ReadFile(filepath.Clean(row.FilePath))
		}
		return s.store(ctx, name, result)

	case errors.Is(err, store.ErrNotFound):
		result, upErr := up.GetMetadata(ctx, name, "")
		if upErr != nil {
			return nil, upErr
		}
		return s.store(ctx, name, result)

	default:
		return nil, regerr.Wrap(regerr.KindStorage, "load metadata cache row", err)
	}
}

func (s *MetadataStore) degradedFallback(ctx context.Context, name, filePath string, upstreamErr error) ([]byte, error) {
	body, readErr := os.ReadFile(filepath.Clean(filePath))
	if readErr != nil {
		return nil, upstreamErr
	}
	s.logger.Warnw("serving stale metadata, upstream unreachable", "package", name, "err", upstreamErr)
	_ = s.repo.TouchAccessed(ctx, name)
	return body, nil
}

func (s *MetadataStore) store(ctx context.Context, name string, result *upstream.MetadataResult) ([]byte, error) {
	var pretty any
	if err := json.Unmarshal(result.Body, &pretty); err != nil {
		return nil, regerr.Wrap(regerr.KindUpstream, "parse upstream metadata document", err)
	}

	path := s.pathFor(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, regerr.Storage(err, "create metadata cache directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, result.Body, 0o600); err != nil {
		return nil, regerr.Storage(err, "write metadata cache file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, regerr.Storage(err, "rename metadata cache file into place")
	}

	var etag *string
	if result.ETag != "" {
		etag = &result.ETag
	}
	if err := s.repo.Upsert(ctx, name, int64(len(result.Body)), path, etag); err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "persist metadata cache row", err)
	}
	return result.Body, nil
}

func (s *MetadataStore) pathFor(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name)+".json")
}

// Invalidate drops the cached document for name, forcing the next
// Get to refetch from upstream (spec.md §4.4 step 8: publish
// invalidates cached metadata).
func (s *MetadataStore) Invalidate(ctx context.Context, name string) error {
	return s.repo.Invalidate(ctx, name)
}

// ClearAll deletes every cached metadata document, both rows and blobs.
func (s *MetadataStore) ClearAll(ctx context.Context) (int, error) {
	rows, err := s.repo.ClearAll(ctx)
	if err != nil {
		return 0, regerr.Wrap(regerr.KindStorage, "clear metadata cache", err)
	}
	for _, row := range rows {
		_ = os.Remove(row.FilePath)
	}
	return len(rows), nil
}

// Count returns how many metadata documents are currently cached.
func (s *MetadataStore) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}
