// Package app wires storage, config, catalog and engine together for the
// CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clientline/internal/catalog"
	"clientline/internal/config"
	"clientline/internal/db"
	"clientline/internal/engine"
	"clientline/internal/migrate"
	"clientline/internal/notify"
)

type App struct {
	DB      *sql.DB
	Config  *config.Config
	Catalog *catalog.Catalog
	Engine  engine.Engine
}

// Open loads config, opens the workspace database, applies migrations and
// seeds the status catalog tables.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cat, err := catalog.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cat)
	eng.Notify = notify.Messenger{Repo: eng.Repo, Now: eng.Now}
	if err := eng.Repo.SeedCatalog(ctx, cat.Statuses(), cat.Edges()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	return &App{DB: conn, Config: cfg, Catalog: cat, Engine: eng}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// EnsureStatusData returns the lifecycle read model, lazily initializing
// projects that predate status tracking.
func (a *App) EnsureStatusData(ctx context.Context, projectID, actorID string) (engine.StatusData, error) {
	data, err := a.Engine.GetStatusData(ctx, projectID)
	var notInit engine.StateNotFoundError
	if errors.As(err, &notInit) {
		if _, err := a.Engine.InitializeStatus(ctx, projectID, "", actorID); err != nil {
			var dup engine.DuplicateStatusStateError
			if !errors.As(err, &dup) {
				return engine.StatusData{}, err
			}
		}
		return a.Engine.GetStatusData(ctx, projectID)
	}
	return data, err
}
