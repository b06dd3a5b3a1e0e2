package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"hoccoo/internal/config"
	"hoccoo/internal/db"
	"hoccoo/internal/engine"
	"hoccoo/internal/events"
	"hoccoo/internal/logger"
	"hoccoo/internal/migrate"
	"hoccoo/internal/repo"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/hoccoo.yml when set.
	ConfigPath string
	InMemory   bool
	// Logger replaces the logger built from the config's log section.
	Logger *slog.Logger
}

// Context bundles the opened workspace. Close releases the database.
type Context struct {
	Engine engine.Engine
	Events events.Writer
	Config *config.Config
	DB     *sql.DB
	Logger *slog.Logger
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// LoadConfig reads the workspace config, or the explicit path when given.
func LoadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.Load(opts.Workspace)
}

// Open prepares a workspace for use: it opens and migrates the database,
// loads the config, seeds the store on first use and validates the result.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Init(cfg.Log)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, InMemory: opts.InMemory})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.Info("applied migrations", "names", applied)
	}

	w := events.Writer{DB: conn}
	e := engine.New(repo.Repo{DB: conn}, w, cfg)
	e.Logger = log
	seeded, err := e.Seed(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}
	if seeded {
		log.Info("seeded workspace", "workspace", opts.Workspace, "people", len(cfg.People))
	}
	if err := e.Validate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{Engine: e, Events: w, Config: cfg, DB: conn, Logger: log}, nil
}
