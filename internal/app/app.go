package app

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"ascend/internal/config"
	"ascend/internal/content"
	"ascend/internal/db"
	"ascend/internal/logging"
	"ascend/internal/migrate"
	"ascend/internal/repo"
	"ascend/internal/session"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	Verbose   bool
	// InMemory keeps the journal in a private in-memory database.
	InMemory bool
	// Logger overrides the logger built from the config.
	Logger   *zap.Logger
	Sessions []session.Option
}

// App is everything a command needs to run games in one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Logger    *zap.Logger
	Content   *content.Store
	// DB and Repo are nil when storage is disabled.
	DB       *sql.DB
	Repo     *repo.Repo
	Sessions *session.Manager
}

// LoadConfig reads ascend.yml from workspace, falling back to defaults.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// ContentDir resolves the configured content directory against workspace.
// An empty result means the embedded pack.
func ContentDir(workspace string, cfg *config.Config) string {
	dir := cfg.Content.Dir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspace, dir)
}

// LoadContent loads the configured pack and logs its warnings.
func LoadContent(workspace string, cfg *config.Config, log *zap.Logger) (*content.Store, error) {
	opt := content.WithDefaultRevealDelay(cfg.Dialogue.DefaultRevealDelayMs)
	var (
		store *content.Store
		err   error
	)
	if dir := ContentDir(workspace, cfg); dir != "" {
		store, err = content.LoadDir(dir, opt)
	} else {
		store, err = content.Default(opt)
	}
	if err != nil {
		return nil, err
	}
	for _, w := range store.Warnings() {
		logging.OrNop(log).Warn("content warning", zap.String("issue", w))
	}
	return store, nil
}

// Open loads config, logger, content and journal for a workspace and
// returns a session manager wired to them.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts.Workspace)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		if log, err = logging.New(cfg.Logging, opts.Verbose); err != nil {
			return nil, err
		}
	}
	store, err := LoadContent(opts.Workspace, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}
	a := &App{Workspace: opts.Workspace, Config: cfg, Logger: log, Content: store}

	sessionOpts := []session.Option{session.WithLogger(log)}
	if cfg.Storage.Enabled || opts.InMemory {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace, InMemory: opts.InMemory})
		if err != nil {
			return nil, err
		}
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if applied > 0 {
			log.Debug("journal migrated", zap.Int("applied", applied))
		}
		a.DB = conn
		a.Repo = &repo.Repo{DB: conn}
		sessionOpts = append(sessionOpts, session.WithStore(a.Repo))
	}
	a.Sessions = session.NewManager(cfg, store, append(sessionOpts, opts.Sessions...)...)
	return a, nil
}

// Close stops every session and releases the journal.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Sessions != nil {
		a.Sessions.Shutdown()
	}
	// stderr sync fails on most terminals
	_ = a.Logger.Sync()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
