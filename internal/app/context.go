package app

import (
	"database/sql"
	"log/slog"

	"swapline/internal/config"
	"swapline/internal/db"
	"swapline/internal/engine"
	"swapline/internal/migrate"
	"swapline/internal/notify"
	"swapline/internal/repo"
)

// Env is a fully wired workspace: open database, loaded config and an
// engine with its notification dispatcher.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Notify notify.Dispatcher
}

// Open prepares the workspace: ensures the directory, opens the database,
// applies migrations and loads swapline.yml (defaults when absent).
func Open(workspace string, logger *slog.Logger) (*Env, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	dispatcher := notify.New(r, logger)
	return &Env{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, dispatcher),
		Notify: dispatcher,
	}, nil
}

// Close releases the database handle.
func (e *Env) Close() error {
	return e.DB.Close()
}
