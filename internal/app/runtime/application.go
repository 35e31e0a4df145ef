package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/store_rating/internal/app"
	"github.com/R3E-Network/store_rating/internal/app/httpapi"
	"github.com/R3E-Network/store_rating/internal/app/storage/postgres"
	"github.com/R3E-Network/store_rating/internal/app/system"
	"github.com/R3E-Network/store_rating/internal/config"
	"github.com/R3E-Network/store_rating/internal/middleware"
	"github.com/R3E-Network/store_rating/internal/platform/migrations"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

const limiterCleanupInterval = time.Minute

// Application wires configuration, persistence and the HTTP server, and
// manages their lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	db         *sqlx.DB
	httpServer *http.Server
	stopBg     context.CancelFunc
}

// NewApplication constructs the process from cfg. With an empty database DSN
// the service runs on the in-memory store.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("runtime: config is required")
	}
	log := logger.New(cfg.Logging.Logger())

	if cfg.Database.DSN == "" {
		log.Warn("no database configured; using in-memory store")
		return assemble(cfg, log, nil)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := migrations.Up(cfg.Database.DSN); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("database migrations applied")
	}
	return assemble(cfg, log, db)
}

// assemble builds the services and HTTP server on db, or on the in-memory
// store when db is nil. It takes ownership of db and closes it on failure.
func assemble(cfg *config.Config, log *logger.Logger, db *sqlx.DB) (_ *Application, err error) {
	bgCtx, stopBg := context.WithCancel(context.Background())
	defer func() {
		if err == nil {
			return
		}
		stopBg()
		if db != nil {
			_ = db.Close()
		}
	}()

	stores := app.Stores{}
	if db != nil {
		pg := postgres.New(db)
		stores = app.Stores{Users: pg, Stores: pg, Ratings: pg, Health: pg}
	}
	application, err := app.New(stores, app.Options{
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		TokenTTL:   cfg.Auth.TokenTTL,
		Issuer:     cfg.Auth.Issuer,
		BcryptCost: cfg.Auth.BcryptCost,
	}, log)
	if err != nil {
		return nil, err
	}

	opts := []httpapi.Option{
		httpapi.WithLogger(log.Named("http")),
		httpapi.WithCORS(cfg.CORS.AllowedOrigins),
		httpapi.WithAuditLog(cfg.Server.AuditLogSize, cfg.Server.AuditLogPath),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.Named("ratelimit"))
		opts = append(opts, httpapi.WithRateLimiter(limiter))
		if err := application.Attach(system.FuncService{
			ServiceName: "rate-limiter",
			StartFunc: func(context.Context) error {
				limiter.StartCleanup(bgCtx, limiterCleanupInterval)
				return nil
			},
		}); err != nil {
			return nil, err
		}
	}
	if db != nil {
		if err := application.Attach(system.FuncService{
			ServiceName: "database",
			StopFunc:    func(context.Context) error { return db.Close() },
		}); err != nil {
			return nil, err
		}
	}

	handler := httpapi.NewHandler(application, opts...)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		app:        application,
		db:         db,
		httpServer: srv,
		stopBg:     stopBg,
	}, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler { return a.httpServer.Handler }

// Run starts the services and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server and stops the services in reverse order.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.stopBg()
	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		return nil, errors.New("database driver not configured")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
