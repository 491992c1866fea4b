package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
)

func TestEnsureOwnerCreatesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	svc := New(memory.New(), zap.NewNop(), Options{})

	created, err := svc.EnsureOwner(ctx, " Founder ", "founder-pass-1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureOwner(ctx, "second", "second-pass-1")
	require.NoError(t, err)
	assert.False(t, created)

	user, err := svc.Authenticate(ctx, "FOUNDER", "founder-pass-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, user.Role)

	_, err = svc.Authenticate(ctx, "second", "second-pass-1")
	assert.ErrorIs(t, err, store.ErrPermission)
}

func TestEnsureOwnerRejectsShortCredentials(t *testing.T) {
	svc := New(memory.New(), zap.NewNop(), Options{})

	_, err := svc.EnsureOwner(context.Background(), "ab", "long-enough-pass")
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.EnsureOwner(context.Background(), "founder", "short")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestAuthenticateMasksUnknownUsers(t *testing.T) {
	f := newFixture(t)

	_, unknownErr := f.svc.Authenticate(f.ctx, "ghost", "whatever-pass")
	_, wrongErr := f.svc.Authenticate(f.ctx, "owner", "whatever-pass")

	require.ErrorIs(t, unknownErr, store.ErrPermission)
	require.ErrorIs(t, wrongErr, store.ErrPermission)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestDuplicateUsernameIsConsistencyError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateUser(f.ctx, owner, domain.CreateUserRequest{Username: "Manager", Password: "another-pass", Role: domain.RoleDistributor})

	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.ErrorIs(t, err, store.ErrConsistency)
}

func TestReferencedProductCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	f.produce(memory.SeedShirtID, 3)

	_, err := f.svc.DeleteProduct(f.ctx, owner, domain.DeleteRequest{ID: memory.SeedShirtID, Reason: "discontinued"})
	assert.ErrorIs(t, err, store.ErrReferenced)

	res, err := f.svc.DeleteProduct(f.ctx, owner, domain.DeleteRequest{ID: memory.SeedTrouserID, Reason: "discontinued"})
	require.NoError(t, err)
	assert.Equal(t, memory.SeedTrouserID, res.EntityID)
}
