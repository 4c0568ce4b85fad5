// Package app wires a workspace into a ready engine: config, database,
// migrations and the catalog games are played against.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"pmsim/internal/catalog"
	"pmsim/internal/config"
	"pmsim/internal/db"
	"pmsim/internal/engine"
	"pmsim/internal/migrate"
	"pmsim/internal/sim"
)

// Catalog sources reported by Resolve.
const (
	SourceDir      = "dir"
	SourceDatabase = "database"
	SourceEmbedded = "embedded"
)

type App struct {
	Workspace     string
	DB            *sql.DB
	Config        *config.Config
	Engine        *engine.Engine
	CatalogSource string
}

// Options tune Open. A nil Config is loaded from the workspace.
type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
}

// Open loads config, opens and migrates the workspace database, and resolves
// the catalog.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		if err := loaded.ApplyEnv(); err != nil {
			return nil, err
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg, sim.Catalog{})
	if opts.Logger != nil {
		eng.Log = opts.Logger
	}
	cat, source, err := Resolve(ctx, cfg, eng)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng.Catalog = cat
	eng.Log.Debug("catalog resolved", "source", source, "tickets", len(cat.Tickets), "events", len(cat.Events))
	return &App{Workspace: opts.Workspace, DB: conn, Config: cfg, Engine: &eng, CatalogSource: source}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// Resolve picks the catalog: a configured directory first, then the seeded
// tables, then the embedded defaults.
func Resolve(ctx context.Context, cfg *config.Config, eng engine.Engine) (sim.Catalog, string, error) {
	if cfg != nil && cfg.Catalog.Dir != "" {
		cat, err := catalog.LoadDir(cfg.Catalog.Dir)
		if err != nil {
			return sim.Catalog{}, "", fmt.Errorf("load catalog %s: %w", cfg.Catalog.Dir, err)
		}
		return cat, SourceDir, nil
	}
	cat, ok, err := eng.StoredCatalog(ctx)
	if err != nil {
		return sim.Catalog{}, "", fmt.Errorf("load stored catalog: %w", err)
	}
	if ok {
		return cat, SourceDatabase, nil
	}
	cat, err = catalog.Default()
	if err != nil {
		return sim.Catalog{}, "", err
	}
	return cat, SourceEmbedded, nil
}
