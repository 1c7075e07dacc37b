package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
)

// App bundles the open database, effective config and engine for one
// workspace. CLI commands and the server share this bootstrap.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Log    *zap.Logger
}

// Open opens the workspace database, applies pending migrations and loads
// the workspace config, falling back to defaults when no file exists.
func Open(workspace string, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &App{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, log),
		Log:    log,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
