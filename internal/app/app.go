// Package app wires configuration, storage, services, and the event bus into
// a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres"
	csrepo "github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/changeset"
	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/graph"
	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/property"
	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/security"
	"github.com/tgreenfield/groundwork-backend/internal/auth"
	"github.com/tgreenfield/groundwork-backend/internal/config"
	"github.com/tgreenfield/groundwork-backend/internal/event"
	"github.com/tgreenfield/groundwork-backend/internal/metrics"
	"github.com/tgreenfield/groundwork-backend/internal/policy"
	cssvc "github.com/tgreenfield/groundwork-backend/internal/service/changeset"
	"github.com/tgreenfield/groundwork-backend/internal/service/lifecycle"
	"github.com/tgreenfield/groundwork-backend/internal/service/resolver"
)

// App holds the wired application graph. Embedders can reach the services
// directly; Run drives the whole thing as a standalone process.
type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Pool       *pgxpool.Pool
	Bus        event.Bus
	Auth       *auth.JWTManager
	Resolver   *resolver.Service
	Lifecycle  *lifecycle.Service
	Changesets *cssvc.Service
}

// New connects storage, builds every service, and subscribes the changeset
// service to the bus. The caller owns shutdown via Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	bus, err := newBus(cfg.Events, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create event bus: %w", err)
	}

	graphRepo := graph.New(pool)
	propertyRepo := property.New(pool)
	securityRepo := security.New(pool)
	changesetRepo := csrepo.New(pool)

	policies := policy.Default()
	tx := postgres.NewTxManager(pool)

	resolverSvc := resolver.NewService(logger, graphRepo, propertyRepo, securityRepo, policies)
	lifecycleSvc := lifecycle.NewService(
		logger, graphRepo, propertyRepo, securityRepo, changesetRepo,
		resolverSvc, policies, tx, bus,
		cfg.Changeset.MaxEntitiesPerChangeset,
	)
	changesetSvc := cssvc.NewService(logger, changesetRepo, propertyRepo, graphRepo, policies, tx, bus)
	changesetSvc.Subscribe(bus)

	return &App{
		Config:     cfg,
		Log:        logger,
		Pool:       pool,
		Bus:        bus,
		Auth:       auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL),
		Resolver:   resolverSvc,
		Lifecycle:  lifecycleSvc,
		Changesets: changesetSvc,
	}, nil
}

// Close releases the bus and the database pool.
func (a *App) Close() {
	if err := a.Bus.Close(); err != nil {
		a.Log.Warn("close event bus", slog.String("error", err.Error()))
	}
	a.Pool.Close()
}

// Run is the application entry point: it loads configuration, wires the
// application, serves metrics and health endpoints, and blocks until the
// context is cancelled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)

	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
		slog.String("events_driver", cfg.Events.Driver),
	)

	application, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	srv := newHTTPServer(cfg)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func newHTTPServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok %s\n", BuildVersion())
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func newBus(cfg config.EventsConfig, logger *slog.Logger) (event.Bus, error) {
	switch cfg.Driver {
	case "redis":
		return event.NewRedisBus(logger, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ChannelPrefix)
	case "memory", "":
		return event.NewMemoryBus(logger), nil
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
}
