package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/harbourshare/wopihost/internal/wopi/http"
	"github.com/harbourshare/wopihost/internal/wopi/service"
	"github.com/harbourshare/wopihost/internal/wopi/storage"
	"github.com/harbourshare/wopihost/internal/wopi/storage/local"
	"github.com/harbourshare/wopihost/internal/wopi/store"
	"github.com/harbourshare/wopihost/internal/wopi/store/drivers/sqlite"
	"github.com/harbourshare/wopihost/pkg/httpx"
	"github.com/harbourshare/wopihost/pkg/slogx"
	"github.com/spf13/afero"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the WOPI host with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db        store.Store
	files     *local.Store
	templates *local.Templates
	locks     storage.LockProvider
	shares    storage.ShareResolver

	// Services
	tokenService        *service.TokenService
	documentService     *service.DocumentService
	federationService   *service.FederationService
	discoveryService    *service.DiscoveryService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "wopi-host",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initStorage(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("wopi host starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"editor_url", app.cfg.EditorURL,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down wopi host...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("wopi host stopped")
	return nil
}

// initDatabase initializes the token database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initStorage mounts the document tree under the configured data directory.
func (app *Application) initStorage() error {
	if err := os.MkdirAll(app.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fs := afero.NewBasePathFs(afero.NewOsFs(), app.cfg.DataDir)
	app.files = local.New(fs)
	app.templates = local.NewTemplates(fs)
	app.locks = storage.NewMemoryLockProvider()
	app.shares = storage.NewStaticShares()

	app.logger.Info("document storage mounted", "data_dir", app.cfg.DataDir)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	app.tokenService = &service.TokenService{
		Store:     app.db,
		TTL:       app.cfg.TokenTTL,
		ServerURL: app.cfg.ServerURL,
	}

	app.documentService = &service.DocumentService{
		Files:     app.files,
		Templates: app.templates,
		Locks:     app.locks,
		Tokens:    app.tokenService,
		Retry: service.RetryPolicy{
			Attempts: app.cfg.RetryAttempts,
			Delay:    app.cfg.RetryDelay,
		},
		ServerURL:     app.cfg.ServerURL,
		WatermarkText: app.cfg.WatermarkText,
	}

	federation, err := service.NewFederationService(
		&http.Client{Timeout: 10 * time.Second},
		app.tokenService,
		app.cfg.ServerURL,
		app.cfg.EditorURL,
		app.cfg.TrustedRemotes,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize federation: %w", err)
	}
	app.federationService = federation
	app.documentService.Federation = federation

	app.discoveryService = service.NewDiscoveryService(
		&http.Client{Timeout: 10 * time.Second},
		app.cfg.EditorURL,
	)

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() error {
	allowList, err := httpx.ParseAllowList(app.cfg.AllowList)
	if err != nil {
		return fmt.Errorf("invalid allow list: %w", err)
	}

	router := httpapi.NewRouter(
		app.cfg.ServerURL,
		app.cfg.EditorURL,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.AllowList = allowList
	router.Shares = app.shares
	router.TokenService = app.tokenService
	router.DocumentService = app.documentService
	router.FederationService = app.federationService
	router.DiscoveryService = app.discoveryService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
