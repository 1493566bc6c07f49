package main

import (
	"context"
	"log/slog"

	"github.com/open-sspm/opsdash/internal/config"
	"github.com/open-sspm/opsdash/internal/store"
)

func openStore(ctx context.Context, cfg config.Config) (store.Repository, error) {
	var repo store.Repository
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo = pg
	default:
		repo = store.NewMemory()
	}
	slog.Info("store ready", "backend", cfg.Store)

	if cfg.SeedSample {
		if err := store.SeedSample(ctx, repo); err != nil {
			repo.Close()
			return nil, err
		}
	}
	return repo, nil
}
