package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"drawboard/internal/db"
	"drawboard/internal/domain"
	"drawboard/internal/engine/auth"
)

const FileName = "drawboard.yml"

// Config models drawboard.yml.
type Config struct {
	Auth struct {
		TokenTTL  string `yaml:"token_ttl"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Storage  StorageConfig         `yaml:"storage"`
	Roles    map[string]RoleConfig `yaml:"roles"`
	Users    []UserConfig          `yaml:"users"`
	Projects []ProjectConfig       `yaml:"projects"`
	Webhooks []WebhookConfig       `yaml:"webhooks"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RoleConfig grants scopes to a role id. Class defaults to the role id.
type RoleConfig struct {
	Class       string   `yaml:"class"`
	Description string   `yaml:"description"`
	Scopes      []string `yaml:"scopes"`
}

type UserConfig struct {
	ID           string `yaml:"user_id"`
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	Role         string `yaml:"role"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	Active       *bool  `yaml:"active"`
}

type ProjectConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dbd init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := db.ParseDialect(c.Storage.Driver); err != nil {
		return fmt.Errorf("config.storage.driver: %w", err)
	}
	if d, _ := db.ParseDialect(c.Storage.Driver); d == db.Postgres && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("config.storage.dsn is required for postgres")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	for id, role := range c.Roles {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		if _, err := role.class(id); err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}
		for _, s := range role.Scopes {
			if err := auth.ValidateScope(s); err != nil {
				return fmt.Errorf("role %s: %w", id, err)
			}
		}
	}
	seenIDs := map[string]bool{}
	seenEmails := map[string]bool{}
	for i, u := range c.Users {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("config.users[%d].user_id is required", i)
		}
		if seenIDs[u.ID] {
			return fmt.Errorf("duplicate user %s", u.ID)
		}
		seenIDs[u.ID] = true
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" || !strings.Contains(email, "@") {
			return fmt.Errorf("user %s: valid email required", u.ID)
		}
		if seenEmails[email] {
			return fmt.Errorf("user %s: duplicate email %s", u.ID, email)
		}
		seenEmails[email] = true
		if _, ok := c.Roles[u.Role]; !ok {
			return fmt.Errorf("user %s references unknown role %s", u.ID, u.Role)
		}
	}
	for i, p := range c.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("config.projects[%d].id is required", i)
		}
	}
	for i, h := range c.Webhooks {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	return nil
}

func (r RoleConfig) class(id string) (domain.RoleClass, error) {
	if strings.TrimSpace(r.Class) != "" {
		return domain.ParseRoleClass(r.Class)
	}
	return domain.ParseRoleClass(id)
}

// TokenTTL parses auth.token_ttl; zero when unset.
func (c *Config) TokenTTL() (time.Duration, error) {
	if strings.TrimSpace(c.Auth.TokenTTL) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config.auth.token_ttl %q is not a valid duration", c.Auth.TokenTTL)
	}
	return d, nil
}

// RoleCatalog returns the configured roles sorted by id.
func (c *Config) RoleCatalog() ([]domain.Role, error) {
	ids := make([]string, 0, len(c.Roles))
	for id := range c.Roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.Role, 0, len(ids))
	for _, id := range ids {
		rc := c.Roles[id]
		class, err := rc.class(id)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", id, err)
		}
		out = append(out, domain.Role{
			ID:          id,
			Class:       class,
			Description: rc.Description,
			Scopes:      auth.NewScopeSet(rc.Scopes...).Slice(),
		})
	}
	return out, nil
}

func (u UserConfig) IsActive() bool {
	return u.Active == nil || *u.Active
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `auth:
  token_ttl: 12h

storage:
  driver: sqlite

roles:
  DIRECTOR:
    description: "Full access"
    scopes: ["*:*:*"]
  TEAM_LEAD:
    description: "Reviews and closes drawing tasks"
    scopes:
      - TASKS:*
      - PROJECTS:READ
      - TEAMS:READ
      - USER_ROLES:READ
  ARCHITECT:
    description: "Designs and tracks own drawings"
    scopes:
      - TASKS:READ
      - TASKS:CREATE
      - TASKS:UPDATE:status
      - TASKS:UPDATE:comments
      - TASKS:UPDATE:description
      - TASKS:UPDATE:drawingTitle
      - TASKS:UPDATE:assignedTo
      - PROJECTS:READ
  DRAUGHTSMAN:
    description: "Produces drawings"
    scopes:
      - TASKS:READ
      - TASKS:UPDATE:status
      - TASKS:UPDATE:comments
      - PROJECTS:READ

users:
  - user_id: director
    name: Director
    email: director@drawboard.local
    role: DIRECTOR
  - user_id: lead
    name: Team Lead
    email: lead@drawboard.local
    role: TEAM_LEAD
  - user_id: architect
    name: Architect
    email: architect@drawboard.local
    role: ARCHITECT
  - user_id: draughtsman
    name: Draughtsman
    email: draughtsman@drawboard.local
    role: DRAUGHTSMAN

projects:
  - id: studio
    name: Studio
`
