package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reporadar/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the RepoRadar HTTP API until SIGINT or SIGTERM.

Endpoints:
  POST /api/search   find repositories similar to repo_url
  POST /api/index    force re-index repo_url
  GET  /api/health   store and GitHub quota status
  GET  /metrics      Prometheus metrics

Examples:
  # Serve with ./reporadar.yaml
  reporadar serve

  # Serve with a different config file
  reporadar serve --config /etc/reporadar/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appParts{pipeline: true})
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	sc := a.cfg.Server
	srv, err := http.NewServer(a.pipeline, a.store, a.github, a.logger.Named("http"), &http.Config{
		Host:        sc.Host,
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		Registry:    a.registry,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}
	if err := srv.Start(ctx, sc.ShutdownTimeout.Duration()); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
