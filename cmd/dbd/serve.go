package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"drawboard/internal/app"
	"drawboard/internal/server"
	"drawboard/internal/telemetry"
)

const version = "1.0.0"

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := telemetry.Init(ctx, "drawboard", version); err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				telemetry.Shutdown(sctx)
			}()
			return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
				if ws.Auth.Tokens.Secret == "" {
					return fmt.Errorf("DRAWBOARD_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
				}
				logger := slog.Default()
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					Auth:     ws.Auth,
					Catalog:  ws.Repo,
					BasePath: basePath,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				projects := make([]string, 0, len(ws.Config.Projects))
				for _, p := range ws.Config.Projects {
					projects = append(projects, p.ID)
				}
				hooks := server.NewWebhookDispatcher(ws.Repo, projects, ws.Config.Webhooks, logger)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					fmt.Printf("Serving drawboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				g.Go(func() error {
					return hooks.Run(gctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
