package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drawboard/internal/app"
	"drawboard/internal/config"
	"drawboard/internal/db"
	"drawboard/internal/domain"
	"drawboard/internal/engine/auth"
	"drawboard/internal/repo"
	"drawboard/internal/telemetry"
	drawboardsdk "drawboard/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "dbd",
	Short: "Drawboard CLI",
	Long: `Drawboard tracks drawing tasks through review.
- Tasks move between PENDING, IN_PROGRESS, IN_REVIEW, COMPLETED, REJECTED and ON_HOLD.
- Architects and draughtsmen work tasks up to review; team leads and directors close, reject or hold them.
- Once a task is COMPLETED only a reviewer can move it again.
- Every status change and comment lands in the task history.

Local mode works on the workspace database as --user. Set --server (or DRAWBOARD_SERVER)
to talk to a running 'dbd serve' instead; 'dbd login' stores a token in .env.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger(viper.GetString("log-level"))
		return nil
	},
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DRAWBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("user", "", "acting user id in local mode")
	flags.String("project", "", "project id (defaults to the first configured project)")
	flags.String("server", "", "drawboard server URL; enables remote mode")
	flags.String("token", "", "bearer token for remote mode")
	flags.String("api-key", "", "API key for remote mode")
	flags.String("jwt-secret", "", "token signing secret")
	flags.String("db-driver", "", "storage driver override (sqlite, postgres)")
	flags.String("db-dsn", "", "storage DSN override")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "user", "project", "server", "token", "api-key", "jwt-secret", "db-driver", "db-dsn", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write drawboard.yml, migrate the database and seed roles, users and projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("Keeping existing %s\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				users, err := ws.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Workspace ready: %d users seeded\n", len(users))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing drawboard.yml")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	var save bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password and print (or save) the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("DRAWBOARD_PASSWORD")
			}
			var token string
			if server := viper.GetString("server"); server != "" {
				c := drawboardsdk.New(server)
				res, err := c.SignIn(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				token = res.AccessToken
				fmt.Printf("Signed in as %s (%s)\n", res.UserID, res.RoleID)
			} else {
				err := withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
					x, err := ws.Auth.SignIn(ctx, email, password)
					if err != nil {
						return err
					}
					token = x.AccessToken
					fmt.Printf("Signed in as %s (%s)\n", x.Principal.UserID, x.Principal.RoleID)
					return nil
				})
				if err != nil {
					return err
				}
			}
			if !save {
				fmt.Println(token)
				return nil
			}
			envPath := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(envPath, "DRAWBOARD_TOKEN", token); err != nil {
				return err
			}
			if server := viper.GetString("server"); server != "" {
				if err := setEnvValue(envPath, "DRAWBOARD_SERVER", server); err != nil {
					return err
				}
			}
			fmt.Printf("Token saved to %s\n", envPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or DRAWBOARD_PASSWORD)")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as DRAWBOARD_TOKEN in .env")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting principal and its scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server := viper.GetString("server"); server != "" {
				c, err := newRemoteClient(server, viper.GetString("token"), viper.GetString("api-key"))
				if err != nil {
					return err
				}
				me, err := c.Me(cmd.Context())
				if err != nil {
					return err
				}
				return printPrincipal(me.UserID, me.Name, me.RoleID, me.Scopes)
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				sess, err := ws.SessionFor(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				p, err := sess.Require()
				if err != nil {
					return err
				}
				return printPrincipal(p.UserID, p.Name(), p.RoleID, p.Scopes)
			})
		},
	}
}

func printPrincipal(userID, name, roleID string, scopes []string) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"user_id":             userID,
			"name":                name,
			"role_id":             roleID,
			"scopes":              scopes,
			"permission_entities": auth.PermissionEntities(scopes),
		})
	}
	fmt.Printf("%s (%s) role=%s\n", name, userID, roleID)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Module", "Grants"})
	for module, grants := range auth.PermissionEntities(scopes) {
		tw.AppendRow(table.Row{module, strings.Join(grants, ", ")})
	}
	tw.SortBy([]table.SortBy{{Name: "Module", Mode: table.Asc}})
	tw.Render()
	return nil
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Inspect roles"}
	role.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles and their scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var roles []domain.Role
			if server := viper.GetString("server"); server != "" {
				c, err := newRemoteClient(server, viper.GetString("token"), viper.GetString("api-key"))
				if err != nil {
					return err
				}
				remote, err := c.Roles(cmd.Context())
				if err != nil {
					return err
				}
				for _, r := range remote {
					roles = append(roles, domain.Role{ID: r.ID, Class: domain.RoleClass(r.Class), Description: r.Description, Scopes: r.Scopes})
				}
			} else {
				err := withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
					var err error
					roles, err = ws.Repo.ListRoles(ctx)
					return err
				})
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(roles)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Class", "Description", "Scopes"})
			for _, r := range roles {
				tw.AppendRow(table.Row{r.ID, r.Class.Label(), r.Description, strings.Join(r.Scopes, "\n")})
			}
			tw.Render()
			return nil
		},
	})
	return role
}

func accessCmd() *cobra.Command {
	access := &cobra.Command{Use: "access", Short: "Evaluate scopes"}
	access.AddCommand(&cobra.Command{
		Use:   "check MODULE ACTION [FIELD]",
		Short: "Report whether the acting principal holds MODULE:ACTION[:FIELD]",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			field := ""
			if len(args) == 3 {
				field = args[2]
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ string) error {
				ok, err := b.CheckAccess(ctx, args[0], args[1], field)
				if err != nil {
					return err
				}
				scope := auth.Scope(args[0], args[1], field)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"scope": scope, "allowed": ok})
				}
				verdict := "denied"
				if ok {
					verdict = "allowed"
				}
				fmt.Printf("%s: %s\n", scope, verdict)
				return nil
			})
		},
	})
	return access
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys (local workspace only)"}
	var name string
	create := &cobra.Command{
		Use:   "create USER_ID",
		Short: "Create an API key for a user; the key is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if _, err := ws.Repo.GetUser(ctx, args[0]); err != nil {
					return err
				}
				key := "dbk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				rec := domain.APIKey{ID: uuid.NewString(), UserID: args[0], Name: name, KeyHash: repo.HashAPIKey(key)}
				if err := ws.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": rec.ID, "user_id": rec.UserID, "key": key})
				}
				fmt.Printf("API key %s for %s:\n%s\n", rec.ID, rec.UserID, key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	keys.AddCommand(create)
	keys.AddCommand(&cobra.Command{
		Use:   "list [USER_ID]",
		Short: "List API keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) == 1 {
				userID = args[0]
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Repo.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, humanTime(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	})
	keys.AddCommand(&cobra.Command{
		Use:   "revoke KEY_ID",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return keys
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Audit event log"}
	var n int
	var evtType, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Repo.LatestEventsFrom(ctx, n, 0, viper.GetString("project"), evtType, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logc.AddCommand(tail)
	return logc
}

// --- helpers ---

func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if d := viper.GetString("db-driver"); d != "" {
		cfg.Storage.Driver = d
	}
	if dsn := viper.GetString("db-dsn"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	return cfg, nil
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig(workspace)
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, workspace, cfg, app.Options{
		JWTSecret: viper.GetString("jwt-secret"),
		Logger:    slog.Default(),
		WrapStore: telemetry.WrapStore,
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// withBackend picks remote mode when --server is set, local mode otherwise.
// The project passed to fn is --project or the first configured project.
func withBackend(ctx context.Context, fn func(context.Context, backend, string) error) error {
	project := viper.GetString("project")
	if server := viper.GetString("server"); server != "" {
		c, err := newRemoteClient(server, viper.GetString("token"), viper.GetString("api-key"))
		if err != nil {
			return err
		}
		if project == "" {
			if cfg, err := loadConfig(viper.GetString("workspace")); err == nil && len(cfg.Projects) > 0 {
				project = cfg.Projects[0].ID
			}
		}
		return fn(ctx, remoteBackend{client: c}, project)
	}
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		sess, err := ws.SessionFor(ctx, viper.GetString("user"))
		if err != nil {
			return err
		}
		if project == "" && len(ws.Config.Projects) > 0 {
			project = ws.Config.Projects[0].ID
		}
		return fn(ctx, localBackend{ws: ws, sess: sess}, project)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func optionalString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
