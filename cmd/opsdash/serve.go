package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/open-sspm/opsdash/internal/config"
	httpapp "github.com/open-sspm/opsdash/internal/http"
	"github.com/open-sspm/opsdash/internal/metrics"
	"github.com/open-sspm/opsdash/internal/sync"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background connector health checks.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	conns, err := openConnectors(ctx, cfg)
	if err != nil {
		return err
	}
	defer conns.Close()

	_, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)

	health := sync.NewHealthRunner(conns, repo)
	health.Reporter = &sync.LogReporter{}
	scheduler := sync.Scheduler{Name: "connector health check", Runner: health, Interval: cfg.HealthCheckInterval}
	go scheduler.Run(ctx)

	srv, err := httpapp.NewEchoServer(cfg, repo, conns, health)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-metricsErrCh:
		return err
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
