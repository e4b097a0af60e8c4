package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
)

const testSecret = "test-secret-key-0123456789abcdef"

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestLoginUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
	}}
	auth := NewAuthManager(testSecret, time.Hour, users, nil)

	_, err := auth.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	assert.Equal(t, 1, users.updates)
	assert.True(t, isPasswordHash(users.users["admin"].Password))

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, 1, users.updates, "an already hashed password is not rewritten")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	hash, err := hashPassword("master123")
	require.NoError(t, err)
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"master": {Username: "master", Password: hash, Role: domain.RoleMaster, Active: true},
		"gone":   {Username: "gone", Password: hash, Role: domain.RoleMaster, Active: false},
	}}
	auth := NewAuthManager(testSecret, time.Hour, users, nil)

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "master", Password: "wrong-pass"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "nobody", Password: "master123"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "gone", Password: "master123"})
	assert.ErrorIs(t, err, errInactiveAccount)
}

func TestTokenCarriesUsernameAndRole(t *testing.T) {
	hash, err := hashPassword("master123")
	require.NoError(t, err)
	users := &userStoreStub{users: map[string]domain.UserAccount{
		"master": {Username: "master", Password: hash, Role: domain.RoleMaster, Active: true},
	}}
	auth := NewAuthManager(testSecret, time.Hour, users, nil)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: " Master ", Password: "master123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMaster, resp.Role)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "master", Role: domain.RoleMaster}, actor)
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, &userStoreStub{}, nil)
	expires := jwtlib.NewNumericDate(time.Now().Add(time.Hour))

	otherSecret, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, salonClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", Issuer: tokenIssuer, ExpiresAt: expires},
		Role:             domain.RoleAdmin,
	}).SignedString([]byte("some-other-secret-0123456789abcdef"))
	require.NoError(t, err)
	_, err = auth.ParseToken(otherSecret)
	assert.Error(t, err)

	otherIssuer, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, salonClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", Issuer: "elsewhere", ExpiresAt: expires},
		Role:             domain.RoleAdmin,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.ParseToken(otherIssuer)
	assert.Error(t, err)

	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, salonClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", Issuer: tokenIssuer, ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Minute))},
		Role:             domain.RoleAdmin,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)
}
