// Package auth is the authentication and ownership authority over
// locally published packages: users, opaque bearer tokens, per-package
// ownership, and organization membership.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jkuri/clef/pkg/regerr"
	"github.com/jkuri/clef/pkg/store"
	"go.uber.org/zap"
)

// Service implements login/register, whoami, logout, token validation,
// and ownership gating (spec.md §4.5).
type Service struct {
	users  *store.UserRepo
	tokens *store.TokenRepo
	orgs   *store.OrgRepo
	owners *store.PackageOwnerRepo
	logger *zap.SugaredLogger
}

func NewService(db *store.DB, logger *zap.SugaredLogger) *Service {
	return &Service{
		users:  store.NewUserRepo(db),
		tokens: store.NewTokenRepo(db),
		orgs:   store.NewOrgRepo(db),
		owners: store.NewPackageOwnerRepo(db),
		logger: logger.Named("auth"),
	}
}

// LoginResult is the shape of the npm login/register response envelope.
type LoginResult struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Login implements PUT /registry/-/user/org.couchdb.user:{username}: if
// the user exists, its password is verified; otherwise a new user is
// created. A fresh token is always issued. urlUsername and bodyUsername
// must match (spec.md §4.5: 409 otherwise).
func (s *Service) Login(ctx context.Context, urlUsername, bodyUsername, password, email string) (*LoginResult, error) {
	if urlUsername != bodyUsername {
		return nil, regerr.Conflict("username in URL (%s) does not match body (%s)", urlUsername, bodyUsername)
	}

	user, err := s.users.GetByUsername(ctx, bodyUsername)
	switch {
	case err == nil:
		ok, verifyErr := VerifyPassword(user.PasswordHash, password)
		if verifyErr != nil {
			return nil, regerr.Wrap(regerr.KindStorage, "verify password", verifyErr)
		}
		if !ok {
			return nil, regerr.Auth("invalid credentials")
		}
	case err == store.ErrNotFound:
		if email == "" {
			email = bodyUsername + "@users.noreply.local"
		}
		hash, hashErr := HashPassword(password)
		if hashErr != nil {
			return nil, regerr.Wrap(regerr.KindStorage, "hash password", hashErr)
		}
		user, err = s.users.Create(ctx, bodyUsername, email, hash)
		if err != nil {
			return nil, regerr.Wrap(regerr.KindStorage, "create user", err)
		}
	default:
		return nil, regerr.Wrap(regerr.KindStorage, "load user", err)
	}

	token, err := s.issueToken(ctx, user.ID, "auth", nil)
	if err != nil {
		return nil, err
	}

	return &LoginResult{OK: true, ID: "org.couchdb.user:" + bodyUsername, Token: token}, nil
}

func (s *Service) issueToken(ctx context.Context, userID int64, tokenType string, expiresAt *time.Time) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", regerr.Wrap(regerr.KindStorage, "generate token", err)
	}
	token := hex.EncodeToString(raw)
	if _, err := s.tokens.Create(ctx, userID, token, tokenType, expiresAt); err != nil {
		return "", regerr.Wrap(regerr.KindStorage, "persist token", err)
	}
	return token, nil
}

// ValidateToken resolves a bearer token to its owning user, failing
// with KindAuth if the token is unknown, inactive, or expired.
func (s *Service) ValidateToken(ctx context.Context, token string) (*store.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, regerr.Auth("missing bearer token")
	}

	t, err := s.tokens.GetByToken(ctx, token)
	if err == store.ErrNotFound {
		return nil, regerr.Auth("invalid token")
	}
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "load token", err)
	}
	if !t.IsActive {
		return nil, regerr.Auth("token revoked")
	}
	if t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt) {
		return nil, regerr.Auth("token expired")
	}

	user, err := s.users.GetByID(ctx, t.UserID)
	if err == store.ErrNotFound {
		return nil, regerr.Auth("token owner no longer exists")
	}
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "load token owner", err)
	}
	if !user.IsActive {
		return nil, regerr.Auth("user deactivated")
	}
	return user, nil
}

// Logout marks token inactive. Idempotent per spec.md §4.5.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.tokens.Deactivate(ctx, token); err != nil {
		return regerr.Wrap(regerr.KindStorage, "deactivate token", err)
	}
	return nil
}

// Whoami just echoes the validated user's username.
func (s *Service) Whoami(ctx context.Context, token string) (string, error) {
	user, err := s.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// CanPublish enforces ownership gating for PUT /registry/{pkg}
// (spec.md §4.4 step 3, §4.5, P4): a package with existing owners
// requires write or admin; a package with none is always publishable
// (first publisher becomes admin owner, handled by the publish
// pipeline itself).
func (s *Service) CanPublish(ctx context.Context, packageName string, userID int64) (bool, error) {
	hasOwners, err := s.owners.HasAny(ctx, packageName)
	if err != nil {
		return false, regerr.Wrap(regerr.KindStorage, "check package owners", err)
	}
	if !hasOwners {
		return true, nil
	}

	owner, err := s.owners.Get(ctx, packageName, userID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, regerr.Wrap(regerr.KindStorage, "load package owner", err)
	}
	return owner.PermissionLevel == store.PermissionWrite || owner.PermissionLevel == store.PermissionAdmin, nil
}

// EnsureScopeMembership implements spec.md §9's organization
// auto-provisioning policy: the organization for scope is created (with
// userID as owner) if it doesn't exist yet; if it exists, userID must
// already be a member, or the publish is rejected with 403.
func (s *Service) EnsureScopeMembership(ctx context.Context, scope string, userID int64) (*store.Organization, error) {
	org, err := s.orgs.GetByName(ctx, scope)
	if err == store.ErrNotFound {
		return nil, nil // caller creates the org inside its own transaction
	}
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "load organization", err)
	}

	isMember, err := s.orgs.IsMember(ctx, org.ID, userID)
	if err != nil {
		return nil, regerr.Wrap(regerr.KindStorage, "check organization membership", err)
	}
	if !isMember {
		return nil, regerr.Forbidden("not a member of organization %q", scope)
	}
	return org, nil
}

// Orgs exposes the organization repository to the publish pipeline,
// which needs to create organizations inside its own transaction.
func (s *Service) Orgs() *store.OrgRepo { return s.orgs }

// Owners exposes the package-owner repository to the publish pipeline.
func (s *Service) Owners() *store.PackageOwnerRepo { return s.owners }
