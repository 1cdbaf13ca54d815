package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMetadataReturnsNotFoundOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetMetadata(context.Background(), "missing-package", "")
	require.Error(t, err)
}

func TestGetMetadataHonorsConditionalRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(`{"name":"lodash"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.GetMetadata(context.Background(), "lodash", `"abc"`)
	require.NoError(t, err)
	assert.True(t, result.NotModified)
}

func TestDoWithRetryRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"name":"lodash"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetMetadata(context.Background(), "lodash", "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDoWithRetryDoesNotRetry4xx(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetMetadata(context.Background(), "lodash", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchTarballWritesAtomically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tarball-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	dest := filepath.Join(t.TempDir(), "lodash", "lodash-1.0.0.tgz")

	_, size, err := c.FetchTarball(context.Background(), srv.URL+"/lodash-1.0.0.tgz", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("tarball-bytes")), size)

	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tarball-bytes", string(body))
}
