package store

import "time"

// User is an authenticated identity. It is created on first login or
// explicit registration and is never deleted while it owns packages.
type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// Token is an opaque bearer credential. It is the sole way a request
// authenticates.
type Token struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	Token     string     `db:"token"`
	TokenType string     `db:"token_type"` // "auth" or "publish"
	ExpiresAt *time.Time `db:"expires_at"`
	IsActive  bool       `db:"is_active"`
}

// Organization corresponds to an npm scope (its Name matches the scope
// without the leading "@").
type Organization struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	DisplayName *string `db:"display_name"`
}

// OrganizationMember is a user's role within an organization.
type OrganizationMember struct {
	UserID int64  `db:"user_id"`
	OrgID  int64  `db:"org_id"`
	Role   string `db:"role"` // owner, admin, member
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Package is the top-level package record: it exists iff at least one
// version has ever been observed, whether cached from upstream or
// published locally.
type Package struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	Description    *string   `db:"description"`
	AuthorID       *int64    `db:"author_id"`
	Homepage       *string   `db:"homepage"`
	RepositoryURL  *string   `db:"repository_url"`
	License        *string   `db:"license"`
	Keywords       *string   `db:"keywords"`
	OrganizationID *int64    `db:"organization_id"`
	IsPrivate      bool      `db:"is_private"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// PackageVersion is one published or proxy-observed version of a
// package. JSON-valued package.json fields are stored as text blobs.
type PackageVersion struct {
	ID               int64     `db:"id"`
	PackageID        int64     `db:"package_id"`
	Version          string    `db:"version"`
	Description      *string   `db:"description"`
	MainFile         *string   `db:"main_file"`
	Scripts          *string   `db:"scripts"`
	Dependencies     *string   `db:"dependencies"`
	DevDependencies  *string   `db:"dev_dependencies"`
	PeerDependencies *string   `db:"peer_dependencies"`
	Engines          *string   `db:"engines"`
	Shasum           *string   `db:"shasum"`
	Readme           *string   `db:"readme"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// PackageFile is a stored blob (typically the version's tarball).
type PackageFile struct {
	ID               int64     `db:"id"`
	PackageVersionID int64     `db:"package_version_id"`
	Filename         string    `db:"filename"`
	SizeBytes        int64     `db:"size_bytes"`
	ContentType      *string   `db:"content_type"`
	ETag             *string   `db:"etag"`
	UpstreamURL      *string   `db:"upstream_url"`
	FilePath         string    `db:"file_path"`
	CreatedAt        time.Time `db:"created_at"`
	LastAccessed     time.Time `db:"last_accessed"`
	AccessCount      int64     `db:"access_count"`
	Quarantined      bool      `db:"quarantined"`
}

// PackageOwner grants a user a permission level on a package name.
// Kept separate from Package.AuthorID because ownership can be
// multi-user and predates any cached data.
type PackageOwner struct {
	PackageName     string `db:"package_name"`
	UserID          int64  `db:"user_id"`
	PermissionLevel string `db:"permission_level"` // read, write, admin
}

const (
	PermissionRead  = "read"
	PermissionWrite = "write"
	PermissionAdmin = "admin"
)

// MetadataCache is one row per cached metadata document.
type MetadataCache struct {
	ID           int64     `db:"id"`
	PackageName  string    `db:"package_name"`
	SizeBytes    int64     `db:"size_bytes"`
	FilePath     string    `db:"file_path"`
	ETag         *string   `db:"etag"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
	LastAccessed time.Time `db:"last_accessed"`
	AccessCount  int64     `db:"access_count"`
}

// CacheStats is the singleton hit/miss counter row.
type CacheStats struct {
	ID        int64 `db:"id"`
	HitCount  int64 `db:"hit_count"`
	MissCount int64 `db:"miss_count"`
}
