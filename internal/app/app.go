// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/tildaslashalef/budgetsync/internal/auth"
	"github.com/tildaslashalef/budgetsync/internal/config"
	"github.com/tildaslashalef/budgetsync/internal/database"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"github.com/tildaslashalef/budgetsync/internal/notify"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/remote"
	"github.com/tildaslashalef/budgetsync/internal/sync"
	"github.com/tildaslashalef/budgetsync/internal/transport"
	"github.com/urfave/cli/v2"
)

// MigrationConfirmer asks whether local plans should be uploaded on the
// first sign in
type MigrationConfirmer interface {
	ConfirmMigration(ctx context.Context, planCount int) (bool, error)
}

// Options customizes the interactive parts of the application
type Options struct {
	// Chooser answers the merge prompt; nil merges without asking
	Chooser sync.Chooser
	// Confirmer answers the migration prompt; nil never offers it
	Confirmer MigrationConfirmer
	// Console receives user facing sync notifications; nil disables them
	Console io.Writer
	Verbose bool
}

// App represents the application instance with its dependencies
type App struct {
	Config       *config.Config
	Settings     *config.SettingsService
	Tokens       *auth.TokenProvider
	Store        *plan.Store
	Plans        *plan.Service
	Remote       *remote.Store
	Engine       *sync.Engine
	Orchestrator *sync.Orchestrator
	Migrator     *sync.Migrator
	SyncLogs     *sync.SQLRepository
	Notifier     *sync.Notifier
	Confirmer    MigrationConfirmer

	closers []func() error
}

// New initializes a new application instance with all its dependencies
func New(opts Options) (*App, error) {
	// Initialize configuration
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	// Initialize logger
	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
		"remote_mode", cfg.Remote.Mode,
	)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The local schema is embedded; keep it current on every start
	if applied, err := database.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	} else if applied > 0 {
		loggy.Info("Applied local migrations", "count", applied)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db, opts)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices wires every service on top of the local database
func initServices(cfg *config.Config, db *sql.DB, opts Options) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settings := config.NewSettingsService(db, cfg, logger)
	if err := settings.Load(ctx); err != nil {
		// Continue with the environment values
		loggy.Warn("Failed to load stored settings", "error", err)
	}

	tokens, err := auth.NewTokenProvider(cfg.Remote.Token)
	if err != nil {
		loggy.Warn("Ignoring unreadable stored token, signed out", "error", err)
		tokens, _ = auth.NewTokenProvider("")
	}

	app := &App{
		Config:    cfg,
		Settings:  settings,
		Tokens:    tokens,
		Confirmer: opts.Confirmer,
	}

	adapter, closer, err := newAdapter(cfg, tokens, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	app.Notifier = sync.NewNotifier(logger, notify.NewLog(logger))
	if opts.Console != nil {
		app.Notifier.Subscribe(notify.NewConsole(opts.Console, opts.Verbose))
	}

	app.Remote = remote.NewStore(adapter, logger)
	app.Engine = sync.NewEngine(app.Remote, app.Notifier, logger, sync.EngineConfig{
		BatchSize:    cfg.Sync.BatchSize,
		BatchTimeout: cfg.Sync.BatchTimeout,
		MaxRetries:   cfg.Sync.MaxRetries,
		BaseDelay:    cfg.Sync.BaseDelay,
		Jitter:       cfg.Sync.Jitter,
	})

	app.Store = plan.NewStore(plan.NewSQLRepository(db, logger), logger)
	app.SyncLogs = sync.NewSQLRepository(db, logger)
	app.Orchestrator = sync.NewOrchestrator(sync.OrchestratorDeps{
		Engine:        app.Engine,
		Local:         app.Store,
		Identity:      tokens,
		Chooser:       opts.Chooser,
		Scheduler:     sync.NewDebouncer(),
		Logs:          app.SyncLogs,
		Notifier:      app.Notifier,
		Logger:        logger,
		DebounceDelay: cfg.Sync.DebounceDelay,
		DeviceName:    cfg.Sync.DeviceName,
	})
	app.Plans = plan.NewService(app.Store, app.Orchestrator, logger)
	app.Migrator = sync.NewMigrator(app.Engine, settings, cfg.Sync.MigrationCooldown, logger)

	return app, nil
}

// newAdapter selects the transport for the configured remote mode
func newAdapter(cfg *config.Config, tokens *auth.TokenProvider, logger *loggy.Logger) (transport.Adapter, func() error, error) {
	switch cfg.Remote.Mode {
	case config.RemoteModeDirect:
		pg, err := transport.OpenPostgres(cfg.Remote.DSN, cfg.Remote.MaxOpenConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open remote database: %w", err)
		}
		direct := transport.NewDirect(pg, tokens, logger)
		return direct, direct.Close, nil

	default:
		proxy := transport.NewProxy(transport.ProxyConfig{
			URL:               cfg.Remote.URL,
			Timeout:           cfg.Remote.Timeout,
			RequestsPerMinute: cfg.Remote.RequestsPerMinute,
			NetworkRetries:    cfg.Remote.NetworkRetries,
		}, tokens, logger)
		return proxy, nil, nil
	}
}

// Start hydrates the local plan store and, when autoSync is set, runs the
// session's automatic sync before returning. A failed automatic sync is
// logged; the local plans stay usable.
func (app *App) Start(ctx context.Context, autoSync bool) error {
	if !app.Store.IsHydrated() {
		if err := app.Store.Hydrate(ctx); err != nil {
			return fmt.Errorf("failed to load local plans: %w", err)
		}
	}

	if !autoSync {
		return nil
	}
	if err := app.Orchestrator.Signal(ctx); err != nil {
		loggy.Warn("Automatic sync failed", "error", err)
	}
	return nil
}

// Login stores token and signs in
func (app *App) Login(ctx context.Context, token string) (string, error) {
	if err := app.Tokens.Set(token); err != nil {
		return "", err
	}
	userID, ok := app.Tokens.UserID()
	if !ok {
		app.Tokens.Clear()
		return "", fmt.Errorf("%w: token expired", auth.ErrInvalidToken)
	}
	if err := app.Settings.SetToken(ctx, token); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}
	loggy.Info("Signed in", "user_id", userID)
	return userID, nil
}

// Logout forgets the token and ends the sync session
func (app *App) Logout(ctx context.Context) error {
	app.Orchestrator.Logout()
	app.Tokens.Clear()
	if err := app.Settings.ClearToken(ctx); err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	loggy.Info("Signed out")
	return nil
}

// Shutdown flushes pending syncs and releases resources
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if app.Store != nil && app.Store.IsHydrated() {
		if err := app.Orchestrator.Flush(context.Background()); err != nil {
			loggy.Warn("Pending sync failed", "error", err)
		}
	}

	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			loggy.Error("Error closing remote connection", "error", err)
		}
	}

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return loggy.GetGlobalLogger().Close()
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
