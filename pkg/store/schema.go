package store

// sqliteSchema is the migrated end state of the schema (spec.md §3),
// applied idempotently at startup with CREATE TABLE/INDEX IF NOT EXISTS
// so repeated boots are no-ops.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	token      TEXT NOT NULL UNIQUE,
	token_type TEXT NOT NULL DEFAULT 'auth',
	expires_at TIMESTAMP,
	is_active  INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_tokens_token ON tokens(token);

CREATE TABLE IF NOT EXISTS organizations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	display_name TEXT
);

CREATE TABLE IF NOT EXISTS organization_members (
	user_id INTEGER NOT NULL REFERENCES users(id),
	org_id  INTEGER NOT NULL REFERENCES organizations(id),
	role    TEXT NOT NULL DEFAULT 'member',
	PRIMARY KEY (user_id, org_id)
);

CREATE TABLE IF NOT EXISTS packages (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL UNIQUE,
	description      TEXT,
	author_id        INTEGER REFERENCES users(id),
	homepage         TEXT,
	repository_url   TEXT,
	license          TEXT,
	keywords         TEXT,
	organization_id  INTEGER REFERENCES organizations(id),
	is_private       INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS package_versions (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	package_id        INTEGER NOT NULL REFERENCES packages(id),
	version           TEXT NOT NULL,
	description       TEXT,
	main_file         TEXT,
	scripts           TEXT,
	dependencies      TEXT,
	dev_dependencies  TEXT,
	peer_dependencies TEXT,
	engines           TEXT,
	shasum            TEXT,
	readme            TEXT,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	UNIQUE(package_id, version)
);

CREATE TABLE IF NOT EXISTS package_files (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	package_version_id  INTEGER NOT NULL REFERENCES package_versions(id),
	filename            TEXT NOT NULL,
	size_bytes          INTEGER NOT NULL,
	content_type        TEXT,
	etag                TEXT,
	upstream_url        TEXT,
	file_path           TEXT NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	last_accessed       TIMESTAMP NOT NULL,
	access_count        INTEGER NOT NULL DEFAULT 0,
	quarantined         INTEGER NOT NULL DEFAULT 0,
	UNIQUE(package_version_id, filename)
);

CREATE TABLE IF NOT EXISTS package_owners (
	package_name     TEXT NOT NULL,
	user_id          INTEGER NOT NULL REFERENCES users(id),
	permission_level TEXT NOT NULL DEFAULT 'read',
	PRIMARY KEY (package_name, user_id)
);

CREATE TABLE IF NOT EXISTS metadata_cache (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	package_name  TEXT NOT NULL UNIQUE,
	size_bytes    INTEGER NOT NULL,
	file_path     TEXT NOT NULL,
	etag          TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	last_accessed TIMESTAMP NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_stats (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	hit_count  INTEGER NOT NULL DEFAULT 0,
	miss_count INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO cache_stats (id, hit_count, miss_count) VALUES (1, 0, 0);
`

// postgresSchema is the same end state expressed in Postgres syntax
// (SERIAL instead of AUTOINCREMENT, BOOLEAN instead of INTEGER flags,
// ON CONFLICT instead of INSERT OR IGNORE) for the optional Postgres
// backend.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            SERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	id         SERIAL PRIMARY KEY,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	token      TEXT NOT NULL UNIQUE,
	token_type TEXT NOT NULL DEFAULT 'auth',
	expires_at TIMESTAMPTZ,
	is_active  BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS idx_tokens_token ON tokens(token);

CREATE TABLE IF NOT EXISTS organizations (
	id           SERIAL PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	display_name TEXT
);

CREATE TABLE IF NOT EXISTS organization_members (
	user_id INTEGER NOT NULL REFERENCES users(id),
	org_id  INTEGER NOT NULL REFERENCES organizations(id),
	role    TEXT NOT NULL DEFAULT 'member',
	PRIMARY KEY (user_id, org_id)
);

CREATE TABLE IF NOT EXISTS packages (
	id               SERIAL PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	description      TEXT,
	author_id        INTEGER REFERENCES users(id),
	homepage         TEXT,
	repository_url   TEXT,
	license          TEXT,
	keywords         TEXT,
	organization_id  INTEGER REFERENCES organizations(id),
	is_private       BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS package_versions (
	id                SERIAL PRIMARY KEY,
	package_id        INTEGER NOT NULL REFERENCES packages(id),
	version           TEXT NOT NULL,
	description       TEXT,
	main_file         TEXT,
	scripts           TEXT,
	dependencies      TEXT,
	dev_dependencies  TEXT,
	peer_dependencies TEXT,
	engines           TEXT,
	shasum            TEXT,
	readme            TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	UNIQUE(package_id, version)
);

CREATE TABLE IF NOT EXISTS package_files (
	id                  SERIAL PRIMARY KEY,
	package_version_id  INTEGER NOT NULL REFERENCES package_versions(id),
	filename            TEXT NOT NULL,
	size_bytes          BIGINT NOT NULL,
	content_type        TEXT,
	etag                TEXT,
	upstream_url        TEXT,
	file_path           TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	last_accessed       TIMESTAMPTZ NOT NULL,
	access_count        INTEGER NOT NULL DEFAULT 0,
	quarantined         BOOLEAN NOT NULL DEFAULT false,
	UNIQUE(package_version_id, filename)
);

CREATE TABLE IF NOT EXISTS package_owners (
	package_name     TEXT NOT NULL,
	user_id          INTEGER NOT NULL REFERENCES users(id),
	permission_level TEXT NOT NULL DEFAULT 'read',
	PRIMARY KEY (package_name, user_id)
);

CREATE TABLE IF NOT EXISTS metadata_cache (
	id            SERIAL PRIMARY KEY,
	package_name  TEXT NOT NULL UNIQUE,
	size_bytes    BIGINT NOT NULL,
	file_path     TEXT NOT NULL,
	etag          TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	last_accessed TIMESTAMPTZ NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_stats (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	hit_count  BIGINT NOT NULL DEFAULT 0,
	miss_count BIGINT NOT NULL DEFAULT 0
);
INSERT INTO cache_stats (id, hit_count, miss_count) VALUES (1, 0, 0) ON CONFLICT (id) DO NOTHING;
`
