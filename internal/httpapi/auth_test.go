package httpapi

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

type usersStub struct {
	users map[string]domain.User
}

func (s usersStub) Authenticate(_ context.Context, username, password string) (domain.User, error) {
	for _, u := range s.users {
		if u.Username == username && password == "correct-horse" {
			return u, nil
		}
	}
	return domain.User{}, store.Permissionf("invalid username or password")
}

func (s usersStub) UserByID(_ context.Context, id string) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, store.NotFoundf("user %s", id)
	}
	return u, nil
}

func newStubAuth(users ...domain.User) (*AuthManager, usersStub) {
	stub := usersStub{users: map[string]domain.User{}}
	for _, u := range users {
		stub.users[u.ID] = u
	}
	return NewAuthManager(testSecret, time.Hour, stub), stub
}

func TestLoginTokenRoundTrips(t *testing.T) {
	auth, _ := newStubAuth(domain.User{ID: "u1", Username: "ana", Role: domain.RoleDistributor, Active: true})

	res, err := auth.Login(context.Background(), domain.LoginRequest{Username: "ana", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)

	user, err := auth.ParseToken(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDistributor, user.Role)
}

func TestLoginSurfacesPermissionError(t *testing.T) {
	auth, _ := newStubAuth(domain.User{ID: "u1", Username: "ana", Role: domain.RoleDistributor, Active: true})

	_, err := auth.Login(context.Background(), domain.LoginRequest{Username: "ana", Password: "wrong"})
	assert.ErrorIs(t, err, store.ErrPermission)
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	user := domain.User{ID: "u1", Username: "ana", Role: domain.RoleOwner, Active: true}
	auth, stub := newStubAuth(user)
	other := NewAuthManager("another-secret-another-secret-0000", time.Hour, stub)

	token, err := other.sign(user, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = auth.ParseToken(context.Background(), token)
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	user := domain.User{ID: "u1", Username: "ana", Role: domain.RoleOwner, Active: true}
	auth, _ := newStubAuth(user)

	token, err := auth.sign(user, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = auth.ParseToken(context.Background(), token)
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	auth, _ := newStubAuth(domain.User{ID: "u1", Role: domain.RoleOwner, Active: true})

	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleOwner,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.ParseToken(context.Background(), token)
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestParseTokenReloadsUser(t *testing.T) {
	user := domain.User{ID: "u1", Username: "ana", Role: domain.RoleProductionManager, Active: true}
	auth, stub := newStubAuth(user)
	token, err := auth.sign(user, time.Now().Add(time.Hour))
	require.NoError(t, err)

	promoted := user
	promoted.Role = domain.RoleOwner
	stub.users["u1"] = promoted
	_, err = auth.ParseToken(context.Background(), token)
	assert.ErrorIs(t, err, errUnauthenticated, "a role change invalidates older tokens")

	inactive := user
	inactive.Active = false
	stub.users["u1"] = inactive
	_, err = auth.ParseToken(context.Background(), token)
	assert.ErrorIs(t, err, errUnauthenticated)

	delete(stub.users, "u1")
	_, err = auth.ParseToken(context.Background(), token)
	assert.ErrorIs(t, err, errUnauthenticated)
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, time.Minute)

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"), "keys are tracked separately")
}
