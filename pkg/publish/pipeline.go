package publish

import (
	"context"
	"crypto/sha1" //nolint:gosec // shasum is npm's declared integrity digest, not used for anything security-sensitive
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jkuri/clef/pkg/auth"
	"github.com/jkuri/clef/pkg/cache"
	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/registry"
	"github.com/jkuri/clef/pkg/store"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Result is the shape of the successful publish response.
type Result struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Pipeline implements PUT /registry/{pkg} end to end (spec.md §4.4).
type Pipeline struct {
	db       *store.DB
	packages *store.PackageRepo
	versions *store.PackageVersionRepo
	files    *store.PackageFileRepo
	owners   *store.PackageOwnerRepo
	auth     *auth.Service
	metadata *cache.MetadataStore
	cacheDir string
	logger   *zap.SugaredLogger
}

func NewPipeline(db *store.DB, authSvc *auth.Service, metadata *cache.MetadataStore, packagesDir string, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		db:       db,
		packages: store.NewPackageRepo(db),
		versions: store.NewPackageVersionRepo(db),
		files:    store.NewPackageFileRepo(db),
		owners:   store.NewPackageOwnerRepo(db),
		auth:     authSvc,
		metadata: metadata,
		cacheDir: packagesDir,
		logger:   logger.Named("publish"),
	}
}

// Publish runs the full pipeline for a PUT /registry/{pkg} request.
func (p *Pipeline) Publish(ctx context.Context, rawName string, userID int64, body []byte) (*Result, error) {
	name := registry.NormalizeName(rawName)

	_, version, manifest, attachment, err := ParseEnvelope(body, name)
	if err != nil {
		return nil, err
	}

	tarballBytes, err := DecodeAttachment(attachment)
	if err != nil {
		return nil, err
	}
	if err := verifyShasum(tarballBytes, manifest); err != nil {
		return nil, err
	}

	pkg, err := p.packages.GetByName(ctx, name)
	switch {
	case err == nil:
		canPublish, permErr := p.auth.CanPublish(ctx, name, userID)
		if permErr != nil {
			return nil, permErr
		}
		if !canPublish {
			return nil, regerr.Forbidden("user lacks write permission on %q", name)
		}
	case err == store.ErrNotFound:
		// handled below inside the transaction
	default:
		return nil, regerr.Wrap(regerr.KindStorage, "load package", err)
	}

	if pkg != nil {
		exists, existsErr := p.versions.Exists(ctx, pkg.ID, version)
		if existsErr != nil {
			return nil, regerr.Wrap(regerr.KindStorage, "check version existence", existsErr)
		}
		if exists {
			return nil, regerr.Conflict("version %s of %q already published", version, name)
		}
	}

	filename := tarballFilename(name, version)
	dest := filepath.Join(p.cacheDir, filepath.FromSlash(name), filename)

	if err := writeAtomic(dest, tarballBytes); err != nil {
		return nil, regerr.Storage(err, "write tarball to disk")
	}

	result, txErr := p.persist(ctx, name, userID, version, manifest, attachment, filename, dest, int64(len(tarballBytes)))
	if txErr != nil {
		_ = os.Remove(dest)
		return nil, txErr
	}

	if err := p.metadata.Invalidate(ctx, name); err != nil {
		p.logger.Warnw("invalidate metadata cache after publish", "package", name, "err", err)
	}

	return result, nil
}

func (p *Pipeline) persist(ctx context.Context, name string, userID int64, version string, manifest map[string]any, attachment Attachment, filename, filePath string, size int64) (*Result, error) {
	var result *Result
	err := p.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		pkg, err := p.packages.GetByName(ctx, name)
		if err == store.ErrNotFound {
			org, orgErr := p.ensureOrganization(ctx, tx, name, userID)
			if orgErr != nil {
				return orgErr
			}
			pkg, err = p.packages.Create(ctx, tx, &store.Package{
				Name:           name,
				AuthorID:       &userID,
				OrganizationID: org,
				IsPrivate:      false,
			})
			if err != nil {
				return regerr.Wrap(regerr.KindStorage, "create package", err)
			}
		} else if err != nil {
			return regerr.Wrap(regerr.KindStorage, "load package", err)
		}

		var ownerCount int
		if err := tx.GetContext(ctx, &ownerCount, `SELECT COUNT(*) FROM package_owners WHERE package_name = ?`, name); err != nil {
			return regerr.Wrap(regerr.KindStorage, "check package owners", err)
		}
		if ownerCount == 0 {
			if createErr := p.owners.Create(ctx, tx, name, userID, store.PermissionAdmin); createErr != nil {
				return regerr.Wrap(regerr.KindStorage, "create package owner", createErr)
			}
		}

		v := manifestToVersion(pkg.ID, version, manifest)
		v, err = p.versions.Create(ctx, tx, v)
		if err != nil {
			return regerr.Wrap(regerr.KindStorage, "insert package version", err)
		}

		contentType := attachment.ContentType
		file := &store.PackageFile{
			PackageVersionID: v.ID,
			Filename:         filename,
			SizeBytes:        size,
			ContentType:      &contentType,
			FilePath:         filePath,
		}
		if _, err := p.files.Create(ctx, tx, file); err != nil {
			return regerr.Wrap(regerr.KindStorage, "insert package file", err)
		}

		if err := p.packages.TouchUpdatedAt(ctx, tx, pkg.ID); err != nil {
			return regerr.Wrap(regerr.KindStorage, "touch package", err)
		}

		result = &Result{OK: true, ID: name, Rev: fmt.Sprintf("1-%d", time.Now().UnixNano())}
		return nil
	})
	return result, err
}

// ensureOrganization implements spec.md §9's auto-provisioning policy
// for a package's first publish.
func (p *Pipeline) ensureOrganization(ctx context.Context, tx *sqlx.Tx, name string, userID int64) (*int64, error) {
	scope := registry.Scope(name)
	if scope == "" {
		return nil, nil
	}
	org, err := p.auth.EnsureScopeMembership(ctx, scope, userID)
	if err != nil {
		return nil, err
	}
	if org != nil {
		return &org.ID, nil
	}
	created, err := p.auth.Orgs().CreateWithOwner(ctx, tx, scope, userID)
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "create organization", err)
	}
	return &created.ID, nil
}

func verifyShasum(data []byte, manifest map[string]any) error {
	dist, _ := manifest["dist"].(map[string]any)
	declared, _ := dist["shasum"].(string)
	if declared == "" {
		return nil
	}
	sum := sha1.Sum(data) //nolint:gosec
	got := hex.EncodeToString(sum[:])
	if got != declared {
		return regerr.Validation("shasum mismatch: declared %s, computed %s", declared, got)
	}
	return nil
}

func manifestToVersion(packageID int64, version string, manifest map[string]any) *store.PackageVersion {
	v := &store.PackageVersion{PackageID: packageID, Version: version}
	if s, ok := manifest["description"].(string); ok {
		v.Description = &s
	}
	if s, ok := manifest["main"].(string); ok {
		v.MainFile = &s
	}
	v.Scripts = marshalField(manifest["scripts"])
	v.Dependencies = marshalField(manifest["dependencies"])
	v.DevDependencies = marshalField(manifest["devDependencies"])
	v.PeerDependencies = marshalField(manifest["peerDependencies"])
	v.Engines = marshalField(manifest["engines"])
	if dist, ok := manifest["dist"].(map[string]any); ok {
		if sum, ok := dist["shasum"].(string); ok {
			v.Shasum = &sum
		}
	}
	return v
}

func marshalField(v any) *string {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func tarballFilename(name, version string) string {
	base := name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			base = name[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s-%s.tgz", base, version)
}

func writeAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	tmp := dest + fmt.Sprintf(".tmp.%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
