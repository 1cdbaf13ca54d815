// Package store is the persistence layer: schema, migrations, and
// transactional repositories over a relational store. SQLite (via
// modernc.org/sqlite, pure Go, no cgo) is the reference backend per the
// spec's single-writer assumption; lib/pq is wired in as the optional
// Postgres alternative for multi-process deployments.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"          // postgres driver, registered via database/sql
	_ "modernc.org/sqlite"         // sqlite driver, registered via database/sql
)

// Driver identifies which SQL dialect a DatabaseURL selects.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DB wraps a connection pool plus the dialect it was opened with, since
// a couple of repositories need placeholder-style or upsert-syntax that
// differs between SQLite and Postgres.
type DB struct {
	*sqlx.DB
	Driver Driver
}

// Open opens databaseURL, picking the driver from its scheme
// ("postgres://...") or falling back to SQLite for a bare file path.
// It applies migrations idempotently and refuses to start (returns an
// error) if they fail, per spec.md §9.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	driver := DriverSQLite
	dsn := databaseURL
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = DriverPostgres
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", databaseURL)
	}

	driverName := "sqlite"
	if driver == DriverPostgres {
		driverName = "postgres"
	}

	conn, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite is a single-writer store: serialize writers through
		// one connection so "database is locked" never surfaces as a
		// transient publish failure.
		conn.SetMaxOpenConns(1)
	}
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{DB: conn, Driver: driver}
	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.Driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration statement: %w\n%s", err, stmt)
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	raw := strings.Split(schema, ";")
	stmts := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		stmts = append(stmts, s)
	}
	return stmts
}
