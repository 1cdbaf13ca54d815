package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/jkuri/clef/pkg/cache"
	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jkuri/clef/pkg/upstream"
	"go.uber.org/zap"
)

// VersionManifest is one entry of Document.Versions: essentially a
// package.json plus its dist block.
type VersionManifest map[string]any

// Document is the npm registry metadata document format
// (spec.md §4.1).
type Document struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	DistTags    map[string]string          `json:"dist-tags"`
	Versions    map[string]VersionManifest `json:"versions"`
	Time        map[string]string          `json:"time"`
}

// Engine produces the canonical metadata document for a package name,
// implementing the algorithm of spec.md §4.1.
type Engine struct {
	packages   *store.PackageRepo
	versions   *store.PackageVersionRepo
	metaCache  *cache.MetadataStore
	upstream   *upstream.Client
	baseURL    string
	logger     *zap.SugaredLogger
}

func NewEngine(db *store.DB, metaCache *cache.MetadataStore, up *upstream.Client, baseURL string, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		packages:  store.NewPackageRepo(db),
		versions:  store.NewPackageVersionRepo(db),
		metaCache: metaCache,
		upstream:  up,
		baseURL:   baseURL,
		logger:    logger.Named("registry"),
	}
}

// Document implements the full algorithm of spec.md §4.1 steps 1-6.
func (e *Engine) Document(ctx context.Context, name string) (*Document, error) {
	pkg, err := e.packages.GetByName(ctx, name)
	notFoundLocally := err == store.ErrNotFound
	if err != nil && !notFoundLocally {
		return nil, regerr.Wrap(regerr.KindStorage, "load package", err)
	}

	// Step 2: purely-local document for private packages.
	if pkg != nil && pkg.IsPrivate {
		return e.localOnlyDocument(ctx, pkg)
	}

	// Step 3: consult the metadata cache / upstream for the base doc.
	base, err := e.upstreamDocument(ctx, name)
	if err != nil {
		var rerr *regerr.Error
		isNotFound := errors.As(err, &rerr) && rerr.Kind == regerr.KindNotFound
		if isNotFound {
			// Step 4: upstream 404 and no local versions -> NotFound.
			if notFoundLocally {
				return nil, regerr.NotFound("package %q not found", name)
			}
			base = &Document{Name: name, DistTags: map[string]string{}, Versions: map[string]VersionManifest{}, Time: map[string]string{"created": nowISO(), "modified": nowISO()}}
		} else {
			return nil, err
		}
	}

	if notFoundLocally {
		e.rewriteTarballs(base, name)
		return base, nil
	}

	// Step 5: merge local versions atop the upstream/base document.
	localVersions, err := e.versions.ListByPackage(ctx, pkg.ID)
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "load local versions", err)
	}
	if base.DistTags == nil {
		base.DistTags = map[string]string{}
	}
	if base.Versions == nil {
		base.Versions = map[string]VersionManifest{}
	}
	if base.Time == nil {
		base.Time = map[string]string{}
	}
	if pkg.Description != nil {
		base.Description = *pkg.Description
	}

	for _, v := range localVersions {
		manifest := versionToManifest(pkg, &v)
		base.Versions[v.Version] = manifest
		base.Time[v.Version] = v.CreatedAt.UTC().Format(time.RFC3339)
	}
	base.Name = name
	recomputeLatest(base)

	// Step 6: rewrite every tarball URL to the local endpoint.
	e.rewriteTarballs(base, name)
	return base, nil
}

// VersionDocument returns a single-version manifest, derived from the
// full document per spec.md §9's recommendation (so latest/deps stay
// consistent with the merged view).
func (e *Engine) VersionDocument(ctx context.Context, name, version string) (VersionManifest, error) {
	doc, err := e.Document(ctx, name)
	if err != nil {
		return nil, err
	}
	manifest, ok := doc.Versions[version]
	if !ok {
		return nil, regerr.NotFound("version %s of %q not found", version, name)
	}
	return manifest, nil
}

func (e *Engine) localOnlyDocument(ctx context.Context, pkg *store.Package) (*Document, error) {
	localVersions, err := e.versions.ListByPackage(ctx, pkg.ID)
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "load local versions", err)
	}
	doc := &Document{
		Name:     pkg.Name,
		DistTags: map[string]string{},
		Versions: map[string]VersionManifest{},
		Time:     map[string]string{"created": pkg.CreatedAt.UTC().Format(time.RFC3339), "modified": pkg.UpdatedAt.UTC().Format(time.RFC3339)},
	}
	if pkg.Description != nil {
		doc.Description = *pkg.Description
	}
	for _, v := range localVersions {
		doc.Versions[v.Version] = versionToManifest(pkg, &v)
		doc.Time[v.Version] = v.CreatedAt.UTC().Format(time.RFC3339)
	}
	recomputeLatest(doc)
	e.rewriteTarballs(doc, pkg.Name)
	return doc, nil
}

// upstreamDocument implements step 3: consult MetadataCache, fetching
// from upstream with conditional GET on miss/stale, serving stale on
// upstream failure (degraded mode).
func (e *Engine) upstreamDocument(ctx context.Context, name string) (*Document, error) {
	raw, err := e.metaCache.Get(ctx, name, e.upstream)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "parse cached metadata document", err)
	}
	return &doc, nil
}

func (e *Engine) rewriteTarballs(doc *Document, name string) {
	encoded := EncodeForUpstream(name)
	for v, manifest := range doc.Versions {
		distRaw, ok := manifest["dist"]
		if !ok {
			continue
		}
		dist, ok := distRaw.(map[string]any)
		if !ok {
			continue
		}
		tarballURL, _ := dist["tarball"].(string)
		filename := filenameFromTarballURL(tarballURL, name, v)
		dist["tarball"] = fmt.Sprintf("%s/registry/%s/-/%s", e.baseURL, encoded, filename)
		manifest["dist"] = dist
		doc.Versions[v] = manifest
	}
}

func filenameFromTarballURL(tarballURL, name, version string) string {
	if tarballURL != "" {
		for i := len(tarballURL) - 1; i >= 0; i-- {
			if tarballURL[i] == '/' {
				return tarballURL[i+1:]
			}
		}
	}
	base := name
	if idx := lastSlash(name); idx >= 0 {
		base = name[idx+1:]
	}
	return fmt.Sprintf("%s-%s.tgz", base, version)
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func versionToManifest(pkg *store.Package, v *store.PackageVersion) VersionManifest {
	m := VersionManifest{
		"name":    pkg.Name,
		"version": v.Version,
	}
	if v.Description != nil {
		m["description"] = *v.Description
	}
	if v.MainFile != nil {
		m["main"] = *v.MainFile
	}
	unmarshalInto(m, "scripts", v.Scripts)
	unmarshalInto(m, "dependencies", v.Dependencies)
	unmarshalInto(m, "devDependencies", v.DevDependencies)
	unmarshalInto(m, "peerDependencies", v.PeerDependencies)
	unmarshalInto(m, "engines", v.Engines)

	filename := fmt.Sprintf("%s-%s.tgz", lastSegment(pkg.Name), v.Version)
	dist := map[string]any{"tarball": filename}
	if v.Shasum != nil {
		dist["shasum"] = *v.Shasum
	}
	m["dist"] = dist
	return m
}

func lastSegment(name string) string {
	if idx := lastSlash(name); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func unmarshalInto(m VersionManifest, key string, raw *string) {
	if raw == nil || *raw == "" {
		return
	}
	var v any
	if err := json.Unmarshal([]byte(*raw), &v); err == nil {
		m[key] = v
	}
}

// recomputeLatest recomputes dist-tags.latest as the highest semver
// among all versions present; keys that do not parse as semver are
// skipped. Local versions have already replaced upstream entries of
// the same key (Document's merge step); between distinct keys of equal
// precedence (differing only in build metadata) the pick is not defined.
func recomputeLatest(doc *Document) {
	var best *semver.Version
	var bestName string
	for v := range doc.Versions {
		parsed, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if best == nil || parsed.GreaterThan(best) {
			best = parsed
			bestName = v
		}
	}
	if bestName != "" {
		if doc.DistTags == nil {
			doc.DistTags = map[string]string{}
		}
		doc.DistTags["latest"] = bestName
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
