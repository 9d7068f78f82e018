package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"drawboard/internal/domain"
)

// UpsertRole replaces a role and its scope grants.
func (r Repo) UpsertRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO roles(id, class, description) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET class=excluded.class, description=excluded.description`),
		role.ID, string(role.Class), nullable(role.Description)); err != nil {
		return fmt.Errorf("upsert role %s: %w", role.ID, err)
	}
	if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM role_scopes WHERE role_id=?`), role.ID); err != nil {
		return err
	}
	for _, s := range role.Scopes {
		if _, err := tx.ExecContext(ctx, r.q(`INSERT INTO role_scopes(role_id, scope) VALUES (?,?) ON CONFLICT DO NOTHING`), role.ID, s); err != nil {
			return fmt.Errorf("grant %s to %s: %w", s, role.ID, err)
		}
	}
	return nil
}

func (r Repo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	var role domain.Role
	var class string
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT id, class, COALESCE(description,'') FROM roles WHERE id=?`), id).
		Scan(&role.ID, &class, &role.Description)
	if err == sql.ErrNoRows {
		return role, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return role, err
	}
	role.Class = domain.RoleClass(class)
	role.Scopes, err = r.roleScopes(ctx, id)
	return role, err
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, class, COALESCE(description,'') FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		var class string
		if err := rows.Scan(&role.ID, &class, &role.Description); err != nil {
			rows.Close()
			return nil, err
		}
		role.Class = domain.RoleClass(class)
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].Scopes, err = r.roleScopes(ctx, roles[i].ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (r Repo) roleScopes(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT scope FROM role_scopes WHERE role_id=? ORDER BY scope`), roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

// UpsertUser inserts or updates a user. An empty PasswordHash keeps the stored one.
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = r.now()
	}
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO users(id, name, email, role_id, password_hash, is_active, created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, role_id=excluded.role_id,
  password_hash=COALESCE(excluded.password_hash, users.password_hash), is_active=excluded.is_active`),
		u.UserID, u.Name, strings.ToLower(u.Email), u.RoleID, nullable(u.PasswordHash), u.IsActive, formatTS(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.UserID, err)
	}
	return nil
}

const userColumns = `id, name, email, role_id, COALESCE(password_hash,''), is_active, created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var created string
	if err := row.Scan(&u.UserID, &u.Name, &u.Email, &u.RoleID, &u.PasswordHash, &u.IsActive, &created); err != nil {
		return u, err
	}
	var err error
	u.CreatedAt, err = parseTS(created)
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return u, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, r.q(`SELECT `+userColumns+` FROM users WHERE email=?`), strings.ToLower(strings.TrimSpace(email))))
	if err == sql.ErrNoRows {
		return u, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SeedCatalog writes roles, users and projects in one transaction.
func (r Repo) SeedCatalog(ctx context.Context, roles []domain.Role, users []domain.User, projects []domain.Project, audit ...domain.AuditEntry) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, role := range roles {
			if err := r.UpsertRole(ctx, tx, role); err != nil {
				return err
			}
		}
		for _, u := range users {
			if err := r.UpsertUser(ctx, tx, u); err != nil {
				return err
			}
		}
		for _, p := range projects {
			if err := r.UpsertProject(ctx, tx, p); err != nil {
				return err
			}
		}
		return r.appendAudit(ctx, tx, audit)
	})
}
