package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"drawboard/internal/domain"
)

// ErrInvalidCredentials is returned for unknown users and bad passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Directory is the read-only user and role catalog.
type Directory interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetRole(ctx context.Context, roleID string) (domain.Role, error)
}

// Exchange is the result of a successful sign-in.
type Exchange struct {
	AccessToken        string              `json:"access_token"`
	ExpiresAt          time.Time           `json:"expires_at" format:"date-time"`
	Principal          domain.Principal    `json:"principal"`
	PermissionEntities map[string][]string `json:"permission_entities"`
}

// Service authenticates users against the Directory and mints access tokens.
type Service struct {
	Directory Directory
	Tokens    Issuer
}

// SignIn verifies email/password and returns a token carrying the role's scopes.
func (s Service) SignIn(ctx context.Context, email, password string) (Exchange, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Exchange{}, domain.ValidationError{Field: "credentials", Message: "email and password required"}
	}
	u, err := s.Directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Exchange{}, ErrInvalidCredentials
		}
		return Exchange{}, err
	}
	if !u.IsActive || !CheckPassword(u.PasswordHash, password) {
		return Exchange{}, ErrInvalidCredentials
	}
	p, err := s.principalFor(ctx, u)
	if err != nil {
		return Exchange{}, err
	}
	token, exp, err := s.Tokens.Sign(p)
	if err != nil {
		return Exchange{}, fmt.Errorf("sign token: %w", err)
	}
	return Exchange{
		AccessToken:        token,
		ExpiresAt:          exp,
		Principal:          p,
		PermissionEntities: PermissionEntities(p.Scopes),
	}, nil
}

// ResolvePrincipal rebuilds a principal from the current catalog.
func (s Service) ResolvePrincipal(ctx context.Context, userID string) (domain.Principal, error) {
	u, err := s.Directory.GetUser(ctx, userID)
	if err != nil {
		return domain.Principal{}, err
	}
	if !u.IsActive {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return s.principalFor(ctx, u)
}

func (s Service) principalFor(ctx context.Context, u domain.User) (domain.Principal, error) {
	role, err := s.Directory.GetRole(ctx, u.RoleID)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("role %s for user %s: %w", u.RoleID, u.UserID, err)
	}
	return domain.Principal{
		UserID:      u.UserID,
		DisplayName: u.Name,
		Email:       u.Email,
		RoleID:      role.ID,
		Role:        role.Class,
		Scopes:      append([]string(nil), role.Scopes...),
	}, nil
}

// PermissionEntities groups scopes by module: {"TASKS": ["READ", "UPDATE:status"]}.
func PermissionEntities(scopes []string) map[string][]string {
	out := map[string][]string{}
	for _, s := range scopes {
		module, rest, ok := strings.Cut(s, scopeSep)
		if !ok {
			continue
		}
		out[module] = append(out[module], rest)
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}

// HashPassword returns a bcrypt hash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
