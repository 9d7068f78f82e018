package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"drawboard/internal/domain"
)

const defaultTokenTTL = 12 * time.Hour

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	Secret string
	TTL    time.Duration
	Now    func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	RoleID string   `json:"role_id"`
	Role   string   `json:"role"`
	Scopes []string `json:"scopes,omitempty"`
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i Issuer) Sign(p domain.Principal) (string, time.Time, error) {
	if strings.TrimSpace(i.Secret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := i.now().UTC()
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:   p.DisplayName,
		Email:  p.Email,
		RoleID: p.RoleID,
		Role:   string(p.Role),
		Scopes: p.Scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(i.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies token and returns the principal it carries.
func (i Issuer) Parse(token string) (domain.Principal, error) {
	if strings.TrimSpace(i.Secret) == "" {
		return domain.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(i.Secret), nil
	})
	if err != nil {
		return domain.Principal{}, err
	}
	if !parsed.Valid {
		return domain.Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" {
		return domain.Principal{}, errors.New("subject claim required")
	}
	role, err := domain.ParseRoleClass(c.Role)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{
		UserID:      c.Subject,
		DisplayName: c.Name,
		Email:       c.Email,
		RoleID:      c.RoleID,
		Role:        role,
		Scopes:      c.Scopes,
	}, nil
}
