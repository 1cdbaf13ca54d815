// Package api implements the admin JSON surface rooted at /api/v1, a
// pure read-side view over pkg/store for the web dashboard.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/jkuri/clef/pkg/cache"
	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/registry"
	"github.com/jkuri/clef/pkg/store"
	"github.com/labstack/echo/v4"
)

// API groups the admin JSON handlers.
type API struct {
	db       *store.DB
	packages *store.PackageRepo
	versions *store.PackageVersionRepo
	files    *store.PackageFileRepo
	metadata *cache.MetadataStore
	tarballs *cache.TarballStore
	stats    *cache.Stats
}

func New(db *store.DB, metadata *cache.MetadataStore, tarballs *cache.TarballStore, stats *cache.Stats) *API {
	return &API{
		db:       db,
		packages: store.NewPackageRepo(db),
		versions: store.NewPackageVersionRepo(db),
		files:    store.NewPackageFileRepo(db),
		metadata: metadata,
		tarballs: tarballs,
		stats:    stats,
	}
}

// Health serves GET /api/v1/health.
func (a *API) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics serves GET /metrics in Prometheus exposition format, picked
// up by the cache and upstream counters/histograms they register.
func (a *API) Metrics(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4")
	metrics.WritePrometheus(c.Response(), true)
	return nil
}

// Analytics serves GET /api/v1/analytics.
func (a *API) Analytics(c echo.Context) error {
	ctx := c.Request().Context()

	var total int64
	if err := a.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM packages`); err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "count packages", err))
	}

	totalSize, err := a.files.TotalSize(ctx)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "sum tarball size", err))
	}

	hits, misses, err := a.stats.Snapshot(ctx)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "read cache stats", err))
	}
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	popular, err := a.files.TopByAccessCount(ctx, 10)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "load popular packages", err))
	}

	var recent []store.Package
	if err := a.db.SelectContext(ctx, &recent, `SELECT * FROM packages ORDER BY created_at DESC LIMIT 10`); err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "load recent packages", err))
	}

	metaCount, err := a.metadata.Count(ctx)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "count metadata cache", err))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"totalPackages":     total,
		"totalSizeBytes":    totalSize,
		"hitCount":          hits,
		"missCount":         misses,
		"hitRate":           hitRate,
		"popularPackages":   popular,
		"recentPackages":    recent,
		"metadataCacheSize": metaCount,
	})
}

// ListPackages serves GET /api/v1/packages?page&limit&search&sort&order.
func (a *API) ListPackages(c echo.Context) error {
	ctx := c.Request().Context()

	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	search := c.QueryParam("search")
	sort := sanitizeSortColumn(c.QueryParam("sort"))
	order := "ASC"
	if strings.EqualFold(c.QueryParam("order"), "desc") {
		order = "DESC"
	}

	query := `SELECT * FROM packages`
	args := []any{}
	if search != "" {
		query += ` WHERE name LIKE ?`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY ` + sort + ` ` + order + ` LIMIT ? OFFSET ?`
	args = append(args, limit, (page-1)*limit)

	var rows []store.Package
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "list packages", err))
	}

	return c.JSON(http.StatusOK, map[string]any{"packages": rows, "page": page, "limit": limit})
}

// GetPackage serves GET /api/v1/packages/{name}.
func (a *API) GetPackage(c echo.Context) error {
	ctx := c.Request().Context()
	name := registry.NormalizeName(c.Param("name"))

	pkg, err := a.packages.GetByName(ctx, name)
	if err == store.ErrNotFound {
		return respondErr(c, regerr.NotFound("package %q not found", name))
	}
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "load package", err))
	}

	versions, err := a.versions.ListByPackage(ctx, pkg.ID)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "load versions", err))
	}

	type versionWithFiles struct {
		store.PackageVersion
		Files []store.PackageFile `json:"files"`
	}
	out := make([]versionWithFiles, 0, len(versions))
	for _, v := range versions {
		var files []store.PackageFile
		if err := a.db.SelectContext(ctx, &files, `SELECT * FROM package_files WHERE package_version_id = ?`, v.ID); err != nil {
			return respondErr(c, regerr.Wrap(regerr.KindStorage, "load version files", err))
		}
		out = append(out, versionWithFiles{PackageVersion: v, Files: files})
	}

	return c.JSON(http.StatusOK, map[string]any{"package": pkg, "versions": out})
}

// CacheStats serves GET /api/v1/cache/stats.
func (a *API) CacheStats(c echo.Context) error {
	ctx := c.Request().Context()
	hits, misses, err := a.stats.Snapshot(ctx)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "read cache stats", err))
	}
	return c.JSON(http.StatusOK, map[string]int64{"hitCount": hits, "missCount": misses})
}

// CacheHealth serves GET /api/v1/cache/health.
func (a *API) CacheHealth(c echo.Context) error {
	ctx := c.Request().Context()
	metaCount, err := a.metadata.Count(ctx)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "count metadata cache", err))
	}
	totalSize, err := a.files.TotalSize(ctx)
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "sum tarball size", err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":            "ok",
		"metadataCacheSize": metaCount,
		"tarballCacheBytes": totalSize,
	})
}

// ClearCache serves DELETE /api/v1/cache.
func (a *API) ClearCache(c echo.Context) error {
	ctx := c.Request().Context()
	metaCleared, err := a.metadata.ClearAll(ctx)
	if err != nil {
		return respondErr(c, err)
	}
	tarballBytes, err := a.tarballs.ClearAll(ctx)
	if err != nil {
		return respondErr(c, err)
	}
	if err := a.stats.Reset(ctx); err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "reset cache stats", err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"metadataEntriesCleared": metaCleared,
		"tarballBytesCleared":    tarballBytes,
	})
}

func queryInt(c echo.Context, key string, fallback int) int {
	v := c.QueryParam(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func sanitizeSortColumn(col string) string {
	switch col {
	case "name", "created_at", "updated_at":
		return col
	default:
		return "created_at"
	}
}

func respondErr(c echo.Context, err error) error {
	return c.JSON(regerr.StatusCode(err), regerr.Body(err))
}
