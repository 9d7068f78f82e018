package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawboard/internal/domain"
)

type memDirectory struct {
	users map[string]domain.User
	roles map[string]domain.Role
}

func (m memDirectory) GetUser(_ context.Context, id string) (domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m memDirectory) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m memDirectory) GetRole(_ context.Context, id string) (domain.Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return domain.Role{}, domain.ErrNotFound
	}
	return r, nil
}

func newTestService(t *testing.T) Service {
	t.Helper()
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Service{
		Directory: memDirectory{
			users: map[string]domain.User{
				"u-1": {UserID: "u-1", Name: "Dana", Email: "dana@example.com", RoleID: "DRAUGHTSMAN", PasswordHash: hash, IsActive: true},
				"u-2": {UserID: "u-2", Name: "Off", Email: "off@example.com", RoleID: "DRAUGHTSMAN", PasswordHash: hash},
			},
			roles: map[string]domain.Role{
				"DRAUGHTSMAN": {ID: "DRAUGHTSMAN", Class: domain.RoleDraughtsman, Scopes: []string{"TASKS:READ", "TASKS:UPDATE:status"}},
			},
		},
		Tokens: Issuer{Secret: "test-secret", TTL: time.Hour, Now: func() time.Time { return now }},
	}
}

func TestSignInRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ex, err := svc.SignIn(context.Background(), "Dana@Example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u-1", ex.Principal.UserID)
	assert.Equal(t, domain.RoleDraughtsman, ex.Principal.Role)
	assert.Equal(t, []string{"READ", "UPDATE:status"}, ex.PermissionEntities["TASKS"])

	p, err := svc.Tokens.Parse(ex.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, ex.Principal, p)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SignIn(context.Background(), "dana@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(context.Background(), "nobody@example.com", "s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(context.Background(), "off@example.com", "s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(context.Background(), "", "")
	assert.True(t, domain.IsValidation(err))
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := newTestService(t)
	ex, err := svc.SignIn(context.Background(), "dana@example.com", "s3cret")
	require.NoError(t, err)

	later := svc.Tokens
	later.Now = func() time.Time { return ex.ExpiresAt.Add(time.Minute) }
	_, err = later.Parse(ex.AccessToken)
	require.Error(t, err)

	other := svc.Tokens
	other.Secret = "other-secret"
	_, err = other.Parse(ex.AccessToken)
	require.Error(t, err)
}

func TestResolvePrincipal(t *testing.T) {
	svc := newTestService(t)
	p, err := svc.ResolvePrincipal(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "DRAUGHTSMAN", p.RoleID)

	_, err = svc.ResolvePrincipal(context.Background(), "u-2")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = svc.ResolvePrincipal(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
