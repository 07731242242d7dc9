package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"huddle/cmd/internal/coord"
	"huddle/cmd/internal/coordapi"
	"huddle/cmd/internal/notify"
)

// App owns the wired server and its resources.
type App struct {
	log    *slog.Logger
	cfg    Config
	pool   *pgxpool.Pool
	server *http.Server
}

// New wires the coordinator, HTTP API, and websocket gateway. With a
// database URL configured it uses Postgres-backed state; otherwise the
// in-memory store, which is for development and tests only.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*App, error) {
	var pool *pgxpool.Pool
	var store coord.Store
	var err error

	if cfg.DatabaseURL != "" {
		pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		var storeOpts []coord.StoreOption
		if cfg.DBSchema != "" {
			storeOpts = append(storeOpts, coord.WithSchema(cfg.DBSchema))
		}
		store, err = coord.NewPostgresStore(ctx, log, pool, storeOpts...)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("select postgres store: %w", err)
		}
	} else {
		log.Warn("no database configured, using in-memory store")
		store = coord.NewMemoryStore()
	}

	reg := prometheus.NewRegistry()
	metrics := coord.NewMetrics(reg)

	if cas, ok := store.(*coord.PostgresCASStore); ok {
		cas.SetRetryHook(metrics.CASRetryHook())
	}

	hub := notify.NewHub(log)

	coordinator, err := coord.New(log, store,
		coord.WithNotifier(hub),
		coord.WithMetrics(metrics),
		coord.WithLease(cfg.LockLease),
	)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("build coordinator: %w", err)
	}

	api, err := coordapi.NewHandler(log, coordapi.LoadConfigFromEnv(), coordinator)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("build api handler: %w", err)
	}

	gateway := notify.NewGateway(log, hub, coordinator, api.Caller)

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, pool, reg, api, gateway)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           WithRequestLogging(log, mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	return &App{log: log, cfg: cfg, pool: pool, server: server}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", slog.String("addr", a.cfg.HTTPAddr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.server.Shutdown(shutdownCtx)
	a.close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
