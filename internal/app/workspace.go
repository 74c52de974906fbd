package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kipdesk/internal/config"
	"kipdesk/internal/db"
	"kipdesk/internal/engine"
	"kipdesk/internal/metrics"
	"kipdesk/internal/migrate"
	"kipdesk/internal/repo"
)

// Workspace is an opened kipdesk workspace: the migrated database and the
// office configuration.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
}

// OpenWorkspace opens the database under dir, applies migrations and loads
// kipdesk.yml. A missing config file falls back to the defaults. Users
// listed in the config are upserted into the directory.
func OpenWorkspace(ctx context.Context, dir string) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("")
		cfg.Users = nil
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	ws := &Workspace{Dir: dir, DB: conn, Repo: repo.Repo{DB: conn}, Config: cfg}
	if _, err := ws.SeedUsers(ctx, time.Now()); err != nil {
		conn.Close()
		return nil, err
	}
	return ws, nil
}

// SeedUsers upserts the configured users and returns how many were written.
func (w *Workspace) SeedUsers(ctx context.Context, now time.Time) (int, error) {
	for i, u := range w.Config.Users {
		if err := w.Repo.UpsertUser(ctx, u, now); err != nil {
			return i, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return len(w.Config.Users), nil
}

// Engine builds an engine over the workspace. reg may be nil to skip
// metrics registration.
func (w *Workspace) Engine(reg prometheus.Registerer, logger *slog.Logger) engine.Engine {
	e := engine.New(w.DB, w.Config)
	if reg != nil {
		e.Metrics = metrics.New(reg)
	}
	e.Logger = logger
	return e
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}
