// Package upstream talks to the configured upstream registry
// (registry.npmjs.org by default): conditional metadata fetches and
// tarball downloads with bounded retries, and bulk advisory lookups,
// which are sent once without retry. Generalizes the teacher's misc.DownloadFileConditional /
// misc.DownloadFile pattern (pkg/misc, pkg/handlers/npm.go) into a
// reusable client instead of one function per handler.
package upstream

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/jkuri/clef/pkg/regerr"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 30 * time.Second
	tarballTimeout = 5 * time.Minute
	maxAttempts    = 3
)

// Client is a thin HTTP client scoped to one upstream registry base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: "clef-registry",
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

// MetadataResult is the outcome of a conditional metadata fetch.
type MetadataResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// GetMetadata fetches the packument for name, sending If-None-Match
// when etag is non-empty. 4xx responses are not retried; connection
// failures and 5xx are retried up to maxAttempts with backoff.
func (c *Client) GetMetadata(ctx context.Context, name, etag string) (*MetadataResult, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, name)
	headers := map[string]string{"Accept": "application/json"}
	if etag != "" {
		headers["If-None-Match"] = etag
	}

	resp, err := c.doWithRetry(ctx, http.MethodGet, url, headers, readTimeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &MetadataResult{ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified"), NotModified: true}, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, regerr.NotFound("upstream has no package %q", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, regerr.Upstream(fmt.Errorf("status %s", resp.Status), "fetch metadata for %q", name)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, regerr.Upstream(err, "read metadata body for %q", name)
	}
	return &MetadataResult{Body: body, ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified")}, nil
}

// FetchTarball downloads tarballURL directly into destination using an
// atomic temp-file-then-rename write, mirroring
// misc.DownloadFileConditional's write strategy.
func (c *Client) FetchTarball(ctx context.Context, tarballURL, destination string) (contentType string, sizeBytes int64, err error) {
	resp, err := c.doWithRetry(ctx, http.MethodGet, tarballURL, map[string]string{"Accept": "application/octet-stream"}, tarballTimeout)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, regerr.Upstream(fmt.Errorf("status %s", resp.Status), "fetch tarball %s", tarballURL)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return "", 0, regerr.Storage(err, "create tarball cache directory")
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", 0, regerr.Storage(err, "generate temp file name")
	}
	tempPath := filepath.Join(filepath.Dir(destination), fmt.Sprintf(".tmp.%s.%d", filepath.Base(destination), n.Int64()))
	tempFile, err := os.Create(filepath.Clean(tempPath))
	if err != nil {
		return "", 0, regerr.Storage(err, "create temp file")
	}
	defer os.Remove(tempFile.Name())

	written, err := io.Copy(tempFile, resp.Body)
	if err != nil {
		tempFile.Close()
		return "", 0, regerr.Upstream(err, "copy tarball body")
	}
	if err := tempFile.Close(); err != nil {
		return "", 0, regerr.Storage(err, "close temp file")
	}
	if err := os.Rename(tempFile.Name(), destination); err != nil {
		return "", 0, regerr.Storage(err, "rename temp file into place")
	}

	return resp.Header.Get("Content-Type"), written, nil
}

// HeadTarball issues a HEAD request and returns whether the tarball
// exists and its content length, without downloading the body; used
// to answer a HEAD for a tarball that is not cached locally.
func (c *Client) HeadTarball(ctx context.Context, tarballURL string) (exists bool, sizeBytes int64, err error) {
	resp, err := c.doWithRetry(ctx, http.MethodHead, tarballURL, nil, readTimeout)
	if err != nil {
		return false, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, 0, regerr.Upstream(fmt.Errorf("status %s", resp.Status), "head tarball %s", tarballURL)
	}
	return true, resp.ContentLength, nil
}

// AuditBulk forwards a bulk vulnerability-audit request body to
// upstream's /-/npm/v1/security/audits/quick endpoint and returns the
// raw JSON response, a passthrough for npm audit support.
func (c *Client) AuditBulk(ctx context.Context, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/-/npm/v1/security/audits/quick", c.baseURL)
	reqCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, regerr.Upstream(err, "build audit request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, regerr.Upstream(err, "audit bulk request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, regerr.Upstream(fmt.Errorf("status %s", resp.Status), "audit bulk request")
	}
	return io.ReadAll(resp.Body)
}

// cancelOnClose wraps a response body so the request's timeout context
// is released as soon as the caller finishes reading it, instead of
// leaking until the parent context ends.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, headers map[string]string, timeout time.Duration) (*http.Response, error) {
	start := time.Now()
	defer func() {
		metrics.GetOrCreateHistogram(fmt.Sprintf(`clef_upstream_request_duration_seconds{method=%q}`, method)).Update(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, method, url, http.NoBody)
		if err != nil {
			cancel()
			return nil, regerr.Upstream(err, "build request")
		}
		req.Header.Set("User-Agent", c.userAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			if attempt < maxAttempts {
				time.Sleep(backoff(attempt))
				continue
			}
			return nil, regerr.Upstream(err, "request to %s failed after %d attempts", url, maxAttempts)
		}

		if resp.StatusCode >= 500 && attempt < maxAttempts {
			resp.Body.Close()
			cancel()
			time.Sleep(backoff(attempt))
			continue
		}

		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return nil, regerr.Upstream(lastErr, "request to %s exhausted retries", url)
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * 200 * time.Millisecond
}
