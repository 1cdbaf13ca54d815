package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/upstream"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TarballStore is the tarball tier of the cache: while the store is
// enabled, a tarball blob once written is never re-fetched or
// overwritten (spec.md §4.2); a disabled store re-fetches on every
// FetchAndStore and overwrites the blob. It also
// owns the tarball-side CacheStats counters (spec.md §4.2: "increment
// CacheStats.hit_count"/"miss_count" on a tarball lookup).
type TarballStore struct {
	dir     string
	repo    *store.PackageFileRepo
	stats   *Stats
	enabled bool
	group   singleflight.Group
	logger  *zap.SugaredLogger
}

func NewTarballStore(dir string, db *store.DB, stats *Stats, enabled bool, logger *zap.SugaredLogger) *TarballStore {
	return &TarballStore{
		dir:     dir,
		repo:    store.NewPackageFileRepo(db),
		stats:   stats,
		enabled: enabled,
		logger:  logger.Named("cache.tarball"),
	}
}

// PathFor returns the on-disk location for {name}/{filename}.
func (t *TarballStore) PathFor(name, filename string) string {
	return filepath.Join(t.dir, filepath.FromSlash(name), filename)
}

// FetchAndStore downloads tarballURL into the cache directory for
// (name, filename) if it isn't already present, deduplicating
// concurrent requests for the same key via singleflight. A lookup that
// reaches upstream is always a miss; when the store is disabled the
// on-disk shortcut is skipped so every call re-fetches.
func (t *TarballStore) FetchAndStore(ctx context.Context, name, filename, tarballURL string, up *upstream.Client) (string, error) {
	key := name + "/" + filename
	v, err, _ := t.group.Do(key, func() (any, error) {
		dest := t.PathFor(name, filename)
		if t.enabled {
			if _, statErr := os.Stat(dest); statErr == nil {
				return dest, nil
			}
		}
		t.stats.RecordMiss()
		if _, _, err := up.FetchTarball(ctx, tarballURL, dest); err != nil {
			return "", err
		}
		return dest, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Get serves a previously cached tarball by package and filename,
// bumping its access counter and recording a cache hit. Quarantined
// files (failed integrity check) are treated as missing. When the
// store is disabled, every lookup is treated as a miss so callers
// always fall through to FetchAndStore.
func (t *TarballStore) Get(ctx context.Context, packageID int64, filename string) (*store.PackageFile, error) {
	if !t.enabled {
		return nil, regerr.NotFound("tarball %q not found", filename)
	}
	file, err := t.repo.GetByPackageAndFilename(ctx, packageID, filename)
	if errors.Is(err, store.ErrNotFound) {
		return nil, regerr.NotFound("tarball %q not found", filename)
	}
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "load package file", err)
	}
	if _, statErr := os.Stat(file.FilePath); statErr != nil {
		_ = t.repo.Quarantine(ctx, file.ID)
		return nil, regerr.Integrity("tarball %q is missing from disk", filename)
	}
	_ = t.repo.BumpAccess(ctx, file.ID)
	t.stats.RecordHit()
	return file, nil
}

// Record inserts the package_files row for a just-written blob and
// returns the row as stored (including its assigned ID), so the caller
// can serve the response without a redundant Get lookup.
func (t *TarballStore) Record(ctx context.Context, f *store.PackageFile) (*store.PackageFile, error) {
	created, err := t.repo.Create(ctx, nil, f)
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "record package file", err)
	}
	return created, nil
}

// ClearAll deletes every package_files row, including rows written by
// a publish, and removes the whole packages directory with their
// blobs. Package, version, and ownership rows are left in place.
func (t *TarballStore) ClearAll(ctx context.Context) (int64, error) {
	total, err := t.repo.TotalSize(ctx)
	if err != nil {
		return 0, regerr.Wrap(regerr.KindStorage, "size cached tarballs", err)
	}
	deleted, err := t.repo.ClearAll(ctx)
	if err != nil {
		return 0, regerr.Wrap(regerr.KindStorage, "clear package files", err)
	}
	for _, f := range deleted {
		_ = os.Remove(f.FilePath)
	}
	if err := os.RemoveAll(t.dir); err == nil {
		_ = os.MkdirAll(t.dir, 0o750)
	}
	return total, nil
}
