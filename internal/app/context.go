package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"drawboard/internal/config"
	"drawboard/internal/db"
	"drawboard/internal/domain"
	"drawboard/internal/engine"
	"drawboard/internal/engine/auth"
	"drawboard/internal/events"
	"drawboard/internal/migrate"
	"drawboard/internal/repo"
	"drawboard/internal/session"
)

// Options tune Open beyond what drawboard.yml carries.
type Options struct {
	JWTSecret string
	Logger    *slog.Logger
	// WrapStore decorates the task store, e.g. with telemetry.
	WrapStore func(engine.TaskStore) engine.TaskStore
}

// Workspace is an opened, migrated and seeded drawboard store.
type Workspace struct {
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Auth   auth.Service
}

// Open connects to the configured store, applies migrations and seeds the catalog.
func Open(ctx context.Context, workspace string, cfg *config.Config, opts Options) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dbCfg := db.Config{Workspace: workspace, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	dialect := dbCfg.Dialect()
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.New(conn, dialect)
	if err := Seed(ctx, r, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	ttl, _ := cfg.TokenTTL()
	secret := opts.JWTSecret
	if secret == "" {
		secret = cfg.Auth.JWTSecret
	}
	e := engine.New(r)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	if opts.WrapStore != nil {
		e.Store = opts.WrapStore(e.Store)
	}
	return &Workspace{
		Config: cfg,
		DB:     conn,
		Repo:   r,
		Engine: e,
		Auth: auth.Service{
			Directory: r,
			Tokens:    auth.Issuer{Secret: secret, TTL: ttl},
		},
	}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// SessionFor establishes a session for a seeded user, resolving scopes from the catalog.
func (w *Workspace) SessionFor(ctx context.Context, userID string) (*session.Context, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user not specified; use --user: %w", domain.ErrUnauthenticated)
	}
	p, err := w.Auth.ResolvePrincipal(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("unknown user %s: %w", userID, domain.ErrUnauthenticated)
		}
		return nil, err
	}
	return session.New(p)
}

// Seed upserts roles, users and projects from cfg. Plain passwords are hashed;
// users without one keep any stored hash.
func Seed(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	roles, err := cfg.RoleCatalog()
	if err != nil {
		return err
	}
	users := make([]domain.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		hash := u.PasswordHash
		if hash == "" && u.Password != "" {
			if hash, err = auth.HashPassword(u.Password); err != nil {
				return fmt.Errorf("hash password for %s: %w", u.ID, err)
			}
		}
		name := u.Name
		if name == "" {
			name = u.ID
		}
		users = append(users, domain.User{
			UserID:       u.ID,
			Name:         name,
			Email:        strings.ToLower(strings.TrimSpace(u.Email)),
			RoleID:       u.Role,
			PasswordHash: hash,
			IsActive:     u.IsActive(),
		})
	}
	projects := make([]domain.Project, 0, len(cfg.Projects))
	for _, p := range cfg.Projects {
		projects = append(projects, domain.Project{ID: p.ID, Name: p.Name})
	}
	return r.SeedCatalog(ctx, roles, users, projects, domain.AuditEntry{
		Type:       events.CatalogSeeded,
		EntityKind: "catalog",
		ActorID:    "system",
		Payload:    map[string]any{"roles": len(roles), "users": len(users), "projects": len(projects)},
	})
}
