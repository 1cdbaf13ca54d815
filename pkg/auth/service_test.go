package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jkuri/clef/pkg/store"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	db, err := store.Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db, zap.NewNop().Sugar()), db
}

func TestLoginRegistersNewUserAndIssuesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice", "alice", "hunter2", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "org.couchdb.user:alice", result.ID)
	assert.NotEmpty(t, result.Token)
}

func TestLoginRejectsUsernameMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "alice", "bob", "hunter2", "")
	require.Error(t, err)
}

func TestLoginVerifiesExistingPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "alice", "alice", "hunter2", "")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "alice", "wrong-password", "")
	require.Error(t, err)

	_, err = svc.Login(ctx, "alice", "alice", "hunter2", "")
	require.NoError(t, err)
}

func TestWhoamiAndLogoutRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice", "alice", "hunter2", "")
	require.NoError(t, err)

	username, err := svc.Whoami(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	require.NoError(t, svc.Logout(ctx, result.Token))

	_, err = svc.Whoami(ctx, result.Token)
	require.Error(t, err, "a logged-out token must not resolve")
}

func TestCanPublishAllowsFirstPublisherOfAnOwnerlessPackage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	canPublish, err := svc.CanPublish(ctx, "brand-new-package", 1)
	require.NoError(t, err)
	assert.True(t, canPublish)
}

func TestCanPublishRejectsNonOwner(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	users := store.NewUserRepo(db)
	owner, err := users.Create(ctx, "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	other, err := users.Create(ctx, "bob", "bob@example.com", "hash")
	require.NoError(t, err)

	err = db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return svc.Owners().Create(ctx, tx, "existing-package", owner.ID, store.PermissionAdmin)
	})
	require.NoError(t, err)

	canPublish, err := svc.CanPublish(ctx, "existing-package", other.ID)
	require.NoError(t, err)
	assert.False(t, canPublish)
}
