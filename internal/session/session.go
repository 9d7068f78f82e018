// Package session carries the authenticated principal for one sign-in
// session or one HTTP request.
package session

import (
	"context"
	"strings"
	"sync"

	"drawboard/internal/domain"
)

// Context holds at most one principal. Safe for concurrent use.
type Context struct {
	mu        sync.RWMutex
	principal *domain.Principal
}

// New returns a Context already established with p.
func New(p domain.Principal) (*Context, error) {
	c := &Context{}
	if err := c.Establish(p); err != nil {
		return nil, err
	}
	return c, nil
}

// Establish replaces any current principal with p.
func (c *Context) Establish(p domain.Principal) error {
	if strings.TrimSpace(p.UserID) == "" {
		return domain.ValidationError{Field: "user_id", Message: "principal user id required"}
	}
	if !p.Role.Valid() {
		return domain.ValidationError{Field: "role", Message: "unknown role " + string(p.Role)}
	}
	cp := p.Clone()
	c.mu.Lock()
	c.principal = &cp
	c.mu.Unlock()
	return nil
}

// Clear signs the session out.
func (c *Context) Clear() {
	c.mu.Lock()
	c.principal = nil
	c.mu.Unlock()
}

// CurrentPrincipal returns a copy of the principal, if any.
func (c *Context) CurrentPrincipal() (domain.Principal, bool) {
	if c == nil {
		return domain.Principal{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.principal == nil {
		return domain.Principal{}, false
	}
	return c.principal.Clone(), true
}

// Require returns the principal or domain.ErrUnauthenticated.
func (c *Context) Require() (domain.Principal, error) {
	p, ok := c.CurrentPrincipal()
	if !ok {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return p, nil
}

// RefreshScopes swaps the granted scopes without re-establishing identity.
func (c *Context) RefreshScopes(scopes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return domain.ErrUnauthenticated
	}
	c.principal.Scopes = append([]string(nil), scopes...)
	return nil
}

type ctxKey struct{}

func WithSession(ctx context.Context, s *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Context, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Context)
	return s, ok && s != nil
}
