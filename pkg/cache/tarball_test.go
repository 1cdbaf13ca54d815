package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/upstream"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedPackageVersion(t *testing.T, db *store.DB, name, version string) (*store.Package, *store.PackageVersion) {
	t.Helper()
	packages := store.NewPackageRepo(db)
	versions := store.NewPackageVersionRepo(db)
	ctx := context.Background()

	var pkg *store.Package
	var v *store.PackageVersion
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		pkg, err = packages.Create(ctx, tx, &store.Package{Name: name})
		if err != nil {
			return err
		}
		v, err = versions.Create(ctx, tx, &store.PackageVersion{PackageID: pkg.ID, Version: version})
		return err
	})
	require.NoError(t, err)
	return pkg, v
}

func TestTarballStoreFetchAndStoreIsIdempotent(t *testing.T) {
	var upstreamHits int
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Write([]byte("tarball-bytes"))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	tb := NewTarballStore(t.TempDir(), db, NewStats(db, zap.NewNop().Sugar()), true, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)
	ctx := context.Background()

	dest1, err := tb.FetchAndStore(ctx, "lodash", "lodash-1.0.0.tgz", upstreamSrv.URL+"/lodash-1.0.0.tgz", up)
	require.NoError(t, err)

	dest2, err := tb.FetchAndStore(ctx, "lodash", "lodash-1.0.0.tgz", upstreamSrv.URL+"/lodash-1.0.0.tgz", up)
	require.NoError(t, err)

	assert.Equal(t, dest1, dest2)
	assert.Equal(t, 1, upstreamHits, "a tarball already on disk must never be re-fetched")
}

func TestTarballStoreGetQuarantinesMissingBlob(t *testing.T) {
	db := newTestDB(t)
	tb := NewTarballStore(t.TempDir(), db, NewStats(db, zap.NewNop().Sugar()), true, zap.NewNop().Sugar())
	ctx := context.Background()

	pkg, v := seedPackageVersion(t, db, "lodash", "1.0.0")
	path := tb.PathFor(pkg.Name, "lodash-1.0.0.tgz")
	require.NoError(t, os.MkdirAll(path[:len(path)-len("/lodash-1.0.0.tgz")], 0o750))
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o600))

	_, err := tb.Record(ctx, &store.PackageFile{PackageVersionID: v.ID, Filename: "lodash-1.0.0.tgz", FilePath: path, SizeBytes: 5})
	require.NoError(t, err)

	file, err := tb.Get(ctx, pkg.ID, "lodash-1.0.0.tgz")
	require.NoError(t, err)
	assert.Equal(t, "lodash-1.0.0.tgz", file.Filename)

	require.NoError(t, os.Remove(path))

	_, err = tb.Get(ctx, pkg.ID, "lodash-1.0.0.tgz")
	require.Error(t, err, "a row whose blob is missing from disk must be quarantined, not served")

	_, err = tb.Get(ctx, pkg.ID, "lodash-1.0.0.tgz")
	require.Error(t, err, "a quarantined row must stay hidden on subsequent lookups")
}

func TestTarballStoreRecordsHitAndMissStats(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tarball-bytes"))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	stats := NewStats(db, zap.NewNop().Sugar())
	tb := NewTarballStore(t.TempDir(), db, stats, true, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)
	ctx := context.Background()

	pkg, v := seedPackageVersion(t, db, "lodash", "1.0.0")

	dest, err := tb.FetchAndStore(ctx, pkg.Name, "lodash-1.0.0.tgz", upstreamSrv.URL+"/lodash-1.0.0.tgz", up)
	require.NoError(t, err)
	_, err = tb.Record(ctx, &store.PackageFile{PackageVersionID: v.ID, Filename: "lodash-1.0.0.tgz", FilePath: dest, SizeBytes: int64(len("tarball-bytes"))})
	require.NoError(t, err)

	_, err = tb.Get(ctx, pkg.ID, "lodash-1.0.0.tgz")
	require.NoError(t, err)

	hits, misses, err := stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits, "the repeat GET served from disk must count as a cache hit")
	assert.Equal(t, int64(1), misses, "the first GET that had to fetch from upstream must count as a cache miss")
}

func TestTarballStoreDisabledBypassesCache(t *testing.T) {
	var upstreamHits int
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Write([]byte("tarball-bytes"))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	tb := NewTarballStore(t.TempDir(), db, NewStats(db, zap.NewNop().Sugar()), false, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)
	ctx := context.Background()
	pkg, _ := seedPackageVersion(t, db, "lodash", "1.0.0")

	_, err := tb.Get(ctx, pkg.ID, "lodash-1.0.0.tgz")
	require.Error(t, err, "a disabled store must never report a cache hit")

	_, err = tb.FetchAndStore(ctx, pkg.Name, "lodash-1.0.0.tgz", upstreamSrv.URL+"/lodash-1.0.0.tgz", up)
	require.NoError(t, err)
	_, err = tb.FetchAndStore(ctx, pkg.Name, "lodash-1.0.0.tgz", upstreamSrv.URL+"/lodash-1.0.0.tgz", up)
	require.NoError(t, err)

	assert.Equal(t, 2, upstreamHits, "CACHE_ENABLED=false must skip the on-disk shortcut and refetch every time")
}
