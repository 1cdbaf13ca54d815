package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by repository lookups that find no row. It
// is translated to regerr.KindNotFound at the caller, never leaked to
// a handler directly.
var ErrNotFound = errors.New("store: not found")

// UserRepo manages the users table.
type UserRepo struct{ db *DB }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user and returns it with its assigned ID.
func (r *UserRepo) Create(ctx context.Context, username, email, passwordHash string) (*User, error) {
	u := &User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.IsActive, u.CreatedAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	u.ID = id
	return u, nil
}

// TokenRepo manages the tokens table.
type TokenRepo struct{ db *DB }

func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

func (r *TokenRepo) Create(ctx context.Context, userID int64, token, tokenType string, expiresAt *time.Time) (*Token, error) {
	t := &Token{UserID: userID, Token: token, TokenType: tokenType, ExpiresAt: expiresAt, IsActive: true}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (user_id, token, token_type, expires_at, is_active) VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.Token, t.TokenType, t.ExpiresAt, t.IsActive)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	t.ID = id
	return t, nil
}

func (r *TokenRepo) GetByToken(ctx context.Context, token string) (*Token, error) {
	var t Token
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tokens WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Deactivate marks token inactive. Idempotent: deactivating an already
// inactive or nonexistent token is not an error.
func (r *TokenRepo) Deactivate(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tokens SET is_active = ? WHERE token = ?`, false, token)
	return err
}

// OrgRepo manages organizations and membership.
type OrgRepo struct{ db *DB }

func NewOrgRepo(db *DB) *OrgRepo { return &OrgRepo{db: db} }

func (r *OrgRepo) GetByName(ctx context.Context, name string) (*Organization, error) {
	var o Organization
	err := r.db.GetContext(ctx, &o, `SELECT * FROM organizations WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateWithOwner creates an organization and adds userID as its first
// member with role "owner", inside tx (called from the publish
// pipeline's transaction, per spec.md §9's auto-provisioning policy).
func (r *OrgRepo) CreateWithOwner(ctx context.Context, tx *sqlx.Tx, name string, userID int64) (*Organization, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO organizations (name) VALUES (?)`, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO organization_members (user_id, org_id, role) VALUES (?, ?, ?)`,
		userID, id, RoleOwner); err != nil {
		return nil, err
	}
	return &Organization{ID: id, Name: name}, nil
}

func (r *OrgRepo) IsMember(ctx context.Context, orgID, userID int64) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM organization_members WHERE org_id = ? AND user_id = ?`, orgID, userID)
	return count > 0, err
}
