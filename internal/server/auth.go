package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"drawboard/internal/domain"
	"drawboard/internal/engine/auth"
	"drawboard/internal/repo"
	"drawboard/internal/session"
)

// APIKeyStore looks up hashed API keys.
type APIKeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

type authenticator struct {
	auth   auth.Service
	keys   APIKeyStore
	logger *slog.Logger
}

// authenticateJWT verifies the token and re-resolves the user so role changes
// and deactivation take effect before the token expires.
func (a authenticator) authenticateJWT(ctx context.Context, token string) (domain.Principal, error) {
	claimed, err := a.auth.Tokens.Parse(token)
	if err != nil {
		return domain.Principal{}, err
	}
	return a.auth.ResolvePrincipal(ctx, claimed.UserID)
}

func (a authenticator) authenticateAPIKey(ctx context.Context, key string) (domain.Principal, error) {
	if a.keys == nil {
		return domain.Principal{}, errors.New("api keys not enabled")
	}
	apiKey, err := a.keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return domain.Principal{}, err
	}
	if apiKey.UserID == "" {
		return domain.Principal{}, errors.New("api key missing user")
	}
	return a.auth.ResolvePrincipal(ctx, apiKey.UserID)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, a authenticator) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "auth/sign-in"): true,
		path.Join(basePath, "openapi.json"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			var (
				principal domain.Principal
				err       error
				source    string
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				source = "jwt"
				principal, err = a.authenticateJWT(req.Context(), token)
			case apiKeyHeader != "":
				source = "api_key"
				principal, err = a.authenticateAPIKey(req.Context(), apiKeyHeader)
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				a.logger.Warn("authentication failed", "source", source, "path", req.URL.Path, "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			sess, err := session.New(principal)
			if err != nil {
				a.logger.Warn("session rejected", "source", source, "user_id", principal.UserID, "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			ctx := session.WithSession(req.Context(), sess)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// sessionFromContext returns the request's session. A missing session yields
// a cleared one so engine calls report ErrUnauthenticated.
func sessionFromContext(ctx context.Context) *session.Context {
	if s, ok := session.FromContext(ctx); ok {
		return s
	}
	return &session.Context{}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
