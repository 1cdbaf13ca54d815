// Package handlers implements the npm wire protocol surface rooted at
// /registry, dispatching to the merge engine, tarball cache, and
// publish pipeline.
package handlers

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/jkuri/clef/pkg/auth"
	"github.com/jkuri/clef/pkg/cache"
	"github.com/jkuri/clef/pkg/publish"
	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/registry"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/upstream"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Npm groups the handlers for the /registry surface; constructed once
// at server startup and wired into Echo's routes.
type Npm struct {
	db       *store.DB
	engine   *registry.Engine
	tarballs *cache.TarballStore
	packages *store.PackageRepo
	versions *store.PackageVersionRepo
	auth     *auth.Service
	pipeline *publish.Pipeline
	upstream *upstream.Client
	logger   *zap.SugaredLogger
}

func NewNpm(engine *registry.Engine, tarballs *cache.TarballStore, db *store.DB, authSvc *auth.Service, pipeline *publish.Pipeline, up *upstream.Client, logger *zap.SugaredLogger) *Npm {
	return &Npm{
		db:       db,
		engine:   engine,
		tarballs: tarballs,
		packages: store.NewPackageRepo(db),
		versions: store.NewPackageVersionRepo(db),
		auth:     authSvc,
		pipeline: pipeline,
		upstream: up,
		logger:   logger.Named("npm"),
	}
}

// Dispatch serves the whole /registry/* surface (document, version,
// and tarball lookups) behind a single wildcard route, generalizing
// the teacher's single-wildcard NpmProxy dispatch
// (_examples/greeddj-hub/pkg/handlers/npm.go) to scoped package names:
// Echo's router can only ever hand a single-segment ":pkg" param to a
// handler, but a literal (non-percent-encoded) scoped name like
// "@types/node" is two real path segments, so routing must consume the
// whole remaining path and split it by hand instead.
func (n *Npm) Dispatch(c echo.Context) error {
	rawPath := strings.Trim(c.Param("*"), "/")
	if rawPath == "" {
		return respondErr(c, regerr.NotFound("not found"))
	}

	rawName, rest := splitRegistryPath(rawPath)
	name := registry.NormalizeName(rawName)
	if !registry.IsValidName(name) {
		return respondErr(c, regerr.NotFound("not found"))
	}

	switch {
	case len(rest) == 0:
		return n.document(c, name)
	case len(rest) == 2 && rest[0] == "-":
		return n.tarball(c, name, rest[1])
	case len(rest) == 1:
		return n.version(c, name, rest[0])
	default:
		return respondErr(c, regerr.NotFound("not found"))
	}
}

// splitRegistryPath splits the path following /registry/ into the
// package-name segment(s) and whatever follows (a version, or "-" plus
// a tarball filename). A literal "@scope/name" consumes two segments;
// a %2F-encoded scope, or an unscoped name, consumes one.
func splitRegistryPath(raw string) (name string, rest []string) {
	segments := strings.Split(raw, "/")
	if strings.HasPrefix(segments[0], "@") && !strings.Contains(strings.ToLower(segments[0]), "%2f") && len(segments) > 1 {
		return segments[0] + "/" + segments[1], segments[2:]
	}
	return segments[0], segments[1:]
}

// document serves GET /registry/{pkg}.
func (n *Npm) document(c echo.Context, name string) error {
	doc, err := n.engine.Document(c.Request().Context(), name)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// version serves GET /registry/{pkg}/{version}.
func (n *Npm) version(c echo.Context, name, version string) error {
	manifest, err := n.engine.VersionDocument(c.Request().Context(), name, version)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, manifest)
}

// tarball serves GET/HEAD /registry/{pkg}/-/{filename}, fetching and
// caching from upstream on a GET miss unless the package is private. A
// HEAD miss never downloads a body: it issues an upstream HEAD instead
// (spec.md §4.2 head_tarball).
func (n *Npm) tarball(c echo.Context, name, filename string) error {
	ctx := c.Request().Context()
	isHead := c.Request().Method == http.MethodHead

	pkg, err := n.packages.GetByName(ctx, name)
	switch {
	case err == store.ErrNotFound:
		doc, docErr := n.engine.Document(ctx, name)
		if docErr != nil {
			return respondErr(c, docErr)
		}
		if isHead {
			return n.headMiss(c, doc, filename)
		}
		pkg, err = n.recordObservedPackage(ctx, name)
		if err != nil {
			return respondErr(c, regerr.Wrap(regerr.KindStorage, "record observed package", err))
		}
		return n.fetchAndServe(c, pkg, doc, filename)
	case err != nil:
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "load package", err))
	}

	if file, getErr := n.tarballs.Get(ctx, pkg.ID, filename); getErr == nil {
		return n.serveFile(c, file)
	}

	if pkg.IsPrivate {
		return respondErr(c, regerr.NotFound("tarball %q not found", filename))
	}

	doc, err := n.engine.Document(ctx, name)
	if err != nil {
		return respondErr(c, err)
	}
	if isHead {
		return n.headMiss(c, doc, filename)
	}
	return n.fetchAndServe(c, pkg, doc, filename)
}

// headMiss answers a HEAD request for a tarball not (yet) cached
// locally with an upstream HEAD, never a full download.
func (n *Npm) headMiss(c echo.Context, doc *registry.Document, filename string) error {
	_, tarballURL := findVersionByFilename(doc, filename)
	if tarballURL == "" {
		return respondErr(c, regerr.NotFound("tarball %q not found upstream", filename))
	}
	exists, size, err := n.upstream.HeadTarball(c.Request().Context(), tarballURL)
	if err != nil {
		return respondErr(c, err)
	}
	if !exists {
		return respondErr(c, regerr.NotFound("tarball %q not found upstream", filename))
	}
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
	return c.NoContent(http.StatusOK)
}

// recordObservedPackage creates the Package row the first time a
// purely-proxied package is observed, satisfying the invariant that a
// Package row exists for every package ever seen (spec.md §3).
func (n *Npm) recordObservedPackage(ctx context.Context, name string) (*store.Package, error) {
	var pkg *store.Package
	err := n.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var createErr error
		pkg, createErr = n.packages.Create(ctx, tx, &store.Package{Name: name, IsPrivate: false})
		return createErr
	})
	return pkg, err
}

func (n *Npm) fetchAndServe(c echo.Context, pkg *store.Package, doc *registry.Document, filename string) error {
	ctx := c.Request().Context()
	name := pkg.Name
	version, tarballURL := findVersionByFilename(doc, filename)
	if tarballURL == "" {
		return respondErr(c, regerr.NotFound("tarball %q not found upstream", filename))
	}

	dest, err := n.tarballs.FetchAndStore(ctx, name, filename, tarballURL, n.upstream)
	if err != nil {
		return respondErr(c, err)
	}

	v, err := n.versions.Get(ctx, pkg.ID, version)
	if err == store.ErrNotFound {
		// Proxy-observed version not yet rowed locally: first tarball
		// fetch for this version also records it.
		txErr := n.db.WithTx(ctx, func(tx *sqlx.Tx) error {
			var createErr error
			v, createErr = n.versions.Create(ctx, tx, &store.PackageVersion{PackageID: pkg.ID, Version: version})
			return createErr
		})
		if txErr != nil {
			err = txErr
		} else {
			err = nil
		}
	}
	if err != nil {
		return respondErr(c, regerr.Wrap(regerr.KindStorage, "load or record package version", err))
	}

	file := &store.PackageFile{PackageVersionID: v.ID, Filename: filename, FilePath: dest, UpstreamURL: &tarballURL}
	if info, statErr := os.Stat(dest); statErr == nil {
		file.SizeBytes = info.Size()
	}
	recorded, recordErr := n.tarballs.Record(ctx, file)
	if recordErr != nil {
		n.logger.Warnw("record fetched tarball", "package", name, "filename", filename, "err", recordErr)
		recorded = file
	}
	return n.serveFile(c, recorded)
}

func (n *Npm) serveFile(c echo.Context, file *store.PackageFile) error {
	contentType := "application/octet-stream"
	if file.ContentType != nil && *file.ContentType != "" {
		contentType = *file.ContentType
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	if c.Request().Method == http.MethodHead {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(file.SizeBytes, 10))
		return c.NoContent(http.StatusOK)
	}
	return c.File(file.FilePath)
}

func findVersionByFilename(doc *registry.Document, filename string) (version, tarballURL string) {
	for v, manifest := range doc.Versions {
		dist, ok := manifest["dist"].(map[string]any)
		if !ok {
			continue
		}
		tarball, _ := dist["tarball"].(string)
		if strings.HasSuffix(tarball, "/"+filename) {
			return v, tarball
		}
	}
	return "", ""
}

// Publish serves PUT /registry/{pkg}.
func (n *Npm) Publish(c echo.Context) error {
	ctx := c.Request().Context()
	user, ok := c.Get("user").(*store.User)
	if !ok || user == nil {
		return respondErr(c, regerr.Auth("authentication required"))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return respondErr(c, regerr.Validation("read request body: %v", err))
	}

	rawName := strings.Trim(c.Param("*"), "/")
	result, err := n.pipeline.Publish(ctx, rawName, user.ID, body)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func respondErr(c echo.Context, err error) error {
	return c.JSON(regerr.StatusCode(err), regerr.Body(err))
}
