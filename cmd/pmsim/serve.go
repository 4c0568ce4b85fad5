package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pmsim/internal/app"
	"pmsim/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serves the game API with bearer auth. Clients mint a token with POST <base>/sessions and play through /games. Set server.jwt_secret in pmsim.yml or PMSIM_JWT_SECRET.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				if cfg.Server.JWTSecret == "" {
					return fmt.Errorf("server.jwt_secret (or PMSIM_JWT_SECRET) is required for bearer auth")
				}
				log := slog.Default()
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret: cfg.Server.JWTSecret,
						TokenTTL:  time.Duration(cfg.Server.TokenTTLHours) * time.Hour,
						Logger:    log,
					},
					Logger: log,
				})
				if err != nil {
					return err
				}

				hooksCtx, stopHooks := context.WithCancel(ctx)
				defer stopHooks()
				hooksDone := server.StartWebhooks(hooksCtx, server.WebhookOptions{
					Repo:     a.Engine.Repo,
					Webhooks: cfg.Webhooks,
					Logger:   log,
				})

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving", "addr", addr, "base_path", basePath, "catalog", a.CatalogSource, "webhooks", len(cfg.Webhooks))
				fmt.Printf("Serving pmsim API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				stopHooks()
				<-hooksDone
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
