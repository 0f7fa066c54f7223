// Package app wires the workspace: it loads config and .env, opens and
// migrates the database and builds the coordinator and sweeper around one
// shared channel lock.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"missionline/internal/clock"
	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/engine"
	"missionline/internal/events"
	"missionline/internal/lock"
	"missionline/internal/maintenance"
	"missionline/internal/migrate"
	"missionline/internal/platform"
	"missionline/internal/platform/memory"
	"missionline/internal/platform/webhookhttp"
	"missionline/internal/repo"
)

const PlatformLocal = "local"

type Options struct {
	Workspace string
	// Platform names the platform backend. Only "local" is built in: an
	// in-process chat server with real webhook delivery.
	Platform string
	Logger   *slog.Logger
	Clock    clock.Clock
}

// App is a ready-to-use workspace. Close releases it.
type App struct {
	DB      *sql.DB
	Config  *config.Config
	Repo    repo.Repo
	Engine  *engine.Engine
	Sweeper *maintenance.Sweeper
	// Local is set when the local platform backend is in use.
	Local *memory.Platform
}

// LoadEnv reads workspace/.env into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Open loads missionline.yml (defaults when absent), opens the database and
// builds the engine.
func Open(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("")
	}
	p, local, err := newPlatform(opts.Platform, cfg, logger)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	clk := clock.Or(opts.Clock)
	e := engine.New(conn, cfg, p, lock.New(), clk, logger)
	return &App{
		DB:     conn,
		Config: cfg,
		Repo:   e.Repo,
		Engine: e,
		Sweeper: &maintenance.Sweeper{
			Repo:    e.Repo,
			Members: p.Members,
			Chat:    p.Chat,
			Config:  cfg,
			Clock:   clk,
			Events:  events.Writer{DB: conn, Now: clk.Now},
			Logger:  logger,
		},
		Local: local,
	}, nil
}

func newPlatform(name string, cfg *config.Config, logger *slog.Logger) (platform.Platform, *memory.Platform, error) {
	switch name {
	case "", PlatformLocal:
		local := memory.New()
		p := local.Ports()
		p.Webhooks = webhookhttp.New(webhookhttp.Config{
			Timeout: time.Duration(cfg.Webhooks.TimeoutSeconds) * time.Second,
			Guild:   cfg.Guild,
			Logger:  logger,
		})
		return p, local, nil
	default:
		return platform.Platform{}, nil, fmt.Errorf("unknown platform %q", name)
	}
}

// Close stops pending teardowns and closes the database.
func (a *App) Close() error {
	a.Engine.Close()
	return a.DB.Close()
}
