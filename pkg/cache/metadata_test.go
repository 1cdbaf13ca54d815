package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMetadataStoreServesFromDiskWithinTTL(t *testing.T) {
	var upstreamHits int
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"name":"lodash","versions":{}}`))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	metaStore := NewMetadataStore(t.TempDir(), time.Hour, db, true, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)

	_, err := metaStore.Get(context.Background(), "lodash", up)
	require.NoError(t, err)

	_, err = metaStore.Get(context.Background(), "lodash", up)
	require.NoError(t, err)

	assert.Equal(t, 1, upstreamHits, "a fresh cache entry must be served without a second upstream round trip")
}

func TestMetadataStoreRevalidatesAfterTTLExpires(t *testing.T) {
	var upstreamHits int
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"name":"lodash","versions":{}}`))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	metaStore := NewMetadataStore(t.TempDir(), -time.Second, db, true, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)

	_, err := metaStore.Get(context.Background(), "lodash", up)
	require.NoError(t, err)

	_, err = metaStore.Get(context.Background(), "lodash", up)
	require.NoError(t, err)

	assert.Equal(t, 2, upstreamHits, "an expired entry must revalidate with upstream")
}

func TestMetadataStoreInvalidateForcesRefetch(t *testing.T) {
	var upstreamHits int
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Write([]byte(`{"name":"lodash","versions":{}}`))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	metaStore := NewMetadataStore(t.TempDir(), time.Hour, db, true, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)
	ctx := context.Background()

	_, err := metaStore.Get(ctx, "lodash", up)
	require.NoError(t, err)
	require.NoError(t, metaStore.Invalidate(ctx, "lodash"))

	_, err = metaStore.Get(ctx, "lodash", up)
	require.NoError(t, err)

	assert.Equal(t, 2, upstreamHits)
}

func TestMetadataStoreDisabledBypassesCache(t *testing.T) {
	var upstreamHits int
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Write([]byte(`{"name":"lodash","versions":{}}`))
	}))
	defer upstreamSrv.Close()

	db := newTestDB(t)
	metaStore := NewMetadataStore(t.TempDir(), time.Hour, db, false, zap.NewNop().Sugar())
	up := upstream.NewClient(upstreamSrv.URL)

	_, err := metaStore.Get(context.Background(), "lodash", up)
	require.NoError(t, err)

	_, err = metaStore.Get(context.Background(), "lodash", up)
	require.NoError(t, err)

	assert.Equal(t, 2, upstreamHits, "CACHE_ENABLED=false must bypass the cache on every lookup")

	count, err := metaStore.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "a disabled store must never persist a cache row")
}
