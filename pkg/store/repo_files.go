package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PackageFileRepo manages the package_files table: one row typically
// per version's tarball.
type PackageFileRepo struct{ db *DB }

func NewPackageFileRepo(db *DB) *PackageFileRepo { return &PackageFileRepo{db: db} }

// GetByPackageAndFilename finds the file row for a package's tarball by
// joining through package_versions. This is the hot lookup on the
// tarball read path (spec.md §5: "hot reads touch at most two tables").
func (r *PackageFileRepo) GetByPackageAndFilename(ctx context.Context, packageID int64, filename string) (*PackageFile, error) {
	var f PackageFile
	err := r.db.GetContext(ctx, &f, `
		SELECT package_files.* FROM package_files
		JOIN package_versions ON package_versions.id = package_files.package_version_id
		WHERE package_versions.package_id = ? AND package_files.filename = ? AND package_files.quarantined = ?`,
		packageID, filename, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a file row inside tx (publish path) or, when tx is nil,
// as a single auto-committed statement (the tarball cache's
// fetch-and-store path).
func (r *PackageFileRepo) Create(ctx context.Context, tx *sqlx.Tx, f *PackageFile) (*PackageFile, error) {
	now := time.Now().UTC()
	f.CreatedAt, f.LastAccessed = now, now
	exec := func(q string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, q, args...)
		}
		return r.db.ExecContext(ctx, q, args...)
	}
	res, err := exec(
		`INSERT INTO package_files (package_version_id, filename, size_bytes, content_type, etag, upstream_url, file_path, created_at, last_accessed, access_count, quarantined)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.PackageVersionID, f.Filename, f.SizeBytes, f.ContentType, f.ETag, f.UpstreamURL, f.FilePath, f.CreatedAt, f.LastAccessed, 0, false)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	f.ID = id
	return f, nil
}

// BumpAccess increments access_count and last_accessed best-effort
// (spec.md §4.2: "non-blocking best-effort"); callers should not fail
// the request if this returns an error.
func (r *PackageFileRepo) BumpAccess(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE package_files SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// Quarantine marks a file row as referring to a missing blob (spec.md
// §7, Integrity errors): the row survives but is never served again.
func (r *PackageFileRepo) Quarantine(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE package_files SET quarantined = ? WHERE id = ?`, true, id)
	return err
}

// ClearAll deletes every package_files row, returning the deleted rows
// so the caller can remove their blobs. It does not touch packages,
// package_versions, metadata_cache, or ownership (spec.md §4.2).
func (r *PackageFileRepo) ClearAll(ctx context.Context) ([]PackageFile, error) {
	var files []PackageFile
	if err := r.db.SelectContext(ctx, &files, `SELECT * FROM package_files`); err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM package_files`); err != nil {
		return nil, err
	}
	return files, nil
}

// TotalSize sums size_bytes across all files, for the analytics API.
func (r *PackageFileRepo) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(size_bytes), 0) FROM package_files`)
	return total, err
}

// TopByAccessCount returns the N package names with highest total
// access_count across their files, for the popular-packages analytic.
func (r *PackageFileRepo) TopByAccessCount(ctx context.Context, limit int) ([]PopularPackage, error) {
	var rows []PopularPackage
	err := r.db.SelectContext(ctx, &rows, `
		SELECT packages.name AS name, SUM(package_files.access_count) AS access_count
		FROM package_files
		JOIN package_versions ON package_versions.id = package_files.package_version_id
		JOIN packages ON packages.id = package_versions.package_id
		GROUP BY packages.name
		ORDER BY access_count DESC
		LIMIT ?`, limit)
	return rows, err
}

// PopularPackage is one row of the top-N popular-packages analytic.
type PopularPackage struct {
	Name        string `db:"name" json:"name"`
	AccessCount int64  `db:"access_count" json:"accessCount"`
}
