package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PackageRepo manages the packages table.
type PackageRepo struct{ db *DB }

func NewPackageRepo(db *DB) *PackageRepo { return &PackageRepo{db: db} }

func (r *PackageRepo) GetByName(ctx context.Context, name string) (*Package, error) {
	var p Package
	err := r.db.GetContext(ctx, &p, `SELECT * FROM packages WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a package row inside tx, returning it with its ID.
func (r *PackageRepo) Create(ctx context.Context, tx *sqlx.Tx, p *Package) (*Package, error) {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	res, err := tx.ExecContext(ctx,
		`INSERT INTO packages (name, description, author_id, homepage, repository_url, license, keywords, organization_id, is_private, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.AuthorID, p.Homepage, p.RepositoryURL, p.License, p.Keywords, p.OrganizationID, p.IsPrivate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// TouchUpdatedAt bumps a package's updated_at, inside tx.
func (r *PackageRepo) TouchUpdatedAt(ctx context.Context, tx *sqlx.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE packages SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// PackageVersionRepo manages the package_versions table.
type PackageVersionRepo struct{ db *DB }

func NewPackageVersionRepo(db *DB) *PackageVersionRepo { return &PackageVersionRepo{db: db} }

func (r *PackageVersionRepo) ListByPackage(ctx context.Context, packageID int64) ([]PackageVersion, error) {
	var versions []PackageVersion
	err := r.db.SelectContext(ctx, &versions, `SELECT * FROM package_versions WHERE package_id = ? ORDER BY created_at`, packageID)
	return versions, err
}

func (r *PackageVersionRepo) Get(ctx context.Context, packageID int64, version string) (*PackageVersion, error) {
	var v PackageVersion
	err := r.db.GetContext(ctx, &v, `SELECT * FROM package_versions WHERE package_id = ? AND version = ?`, packageID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Exists reports whether (packageID, version) already exists — used by
// the publish pipeline to enforce immutability (P3).
func (r *PackageVersionRepo) Exists(ctx context.Context, packageID int64, version string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM package_versions WHERE package_id = ? AND version = ?`, packageID, version)
	return count > 0, err
}

// Create inserts a version row inside tx.
func (r *PackageVersionRepo) Create(ctx context.Context, tx *sqlx.Tx, v *PackageVersion) (*PackageVersion, error) {
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	res, err := tx.ExecContext(ctx,
		`INSERT INTO package_versions (package_id, version, description, main_file, scripts, dependencies, dev_dependencies, peer_dependencies, engines, shasum, readme, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.PackageID, v.Version, v.Description, v.MainFile, v.Scripts, v.Dependencies, v.DevDependencies, v.PeerDependencies, v.Engines, v.Shasum, v.Readme, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	v.ID = id
	return v, nil
}

// PackageOwnerRepo manages per-package ownership.
type PackageOwnerRepo struct{ db *DB }

func NewPackageOwnerRepo(db *DB) *PackageOwnerRepo { return &PackageOwnerRepo{db: db} }

func (r *PackageOwnerRepo) Get(ctx context.Context, packageName string, userID int64) (*PackageOwner, error) {
	var o PackageOwner
	err := r.db.GetContext(ctx, &o, `SELECT * FROM package_owners WHERE package_name = ? AND user_id = ?`, packageName, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PackageOwnerRepo) HasAny(ctx context.Context, packageName string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM package_owners WHERE package_name = ?`, packageName)
	return count > 0, err
}

func (r *PackageOwnerRepo) Create(ctx context.Context, tx *sqlx.Tx, packageName string, userID int64, level string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO package_owners (package_name, user_id, permission_level) VALUES (?, ?, ?)`,
		packageName, userID, level)
	return err
}

func (r *PackageOwnerRepo) List(ctx context.Context, packageName string) ([]PackageOwner, error) {
	var owners []PackageOwner
	err := r.db.SelectContext(ctx, &owners, `SELECT * FROM package_owners WHERE package_name = ?`, packageName)
	return owners, err
}
