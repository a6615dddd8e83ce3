// Package main implements the entry point for the labelq API server,
// which leases annotation tasks to users and tracks their navigation
// history.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/labelq/labelq-api/internal/config"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/platform/memstore"
	"github.com/labelq/labelq-api/internal/platform/metrics"
	"github.com/labelq/labelq-api/internal/platform/postgres"
	"github.com/labelq/labelq-api/internal/service/assignment"
	"github.com/labelq/labelq-api/internal/store"
	"github.com/labelq/labelq-api/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

// run loads configuration, wires the stores and services for the
// configured backend, and serves HTTP until interrupted.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Database.Backend,
		"lease_ttl_seconds", cfg.Lease.TTLSeconds)

	stores, closeStores, err := buildStores(cfg, appLogger)
	if err != nil {
		return err
	}
	defer closeStores()

	reg := metrics.New()
	service := assignment.NewService(stores.tasks, stores.leases, stores.histories, assignment.Config{
		Transactor:   stores.txn,
		LeaseTTL:     time.Duration(cfg.Lease.TTLSeconds) * time.Second,
		ScanPageSize: cfg.Lease.ScanPageSize,
		Metrics:      reg,
	}, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(service, reg, appLogger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// storeSet groups the three stores the assignment service depends on,
// plus the transactor that runs their compound mutations atomically.
type storeSet struct {
	tasks     store.TaskStore
	leases    store.LeaseStore
	histories store.HistoryStore
	txn       store.Transactor
}

// buildStores constructs the store implementations for the configured
// backend. For postgres it also opens the connection pool and applies
// pending migrations; the returned func closes whatever was opened.
func buildStores(cfg *config.Config, appLogger *slog.Logger) (storeSet, func(), error) {
	switch cfg.Database.Backend {
	case "memory":
		slog.Warn("using in-memory stores; all data is lost on restart")
		tasks := memstore.NewTaskStore()
		leases := memstore.NewLeaseStore()
		histories := memstore.NewHistoryStore()
		return storeSet{
			tasks:     tasks,
			leases:    leases,
			histories: histories,
			txn:       memstore.NewTransactor(tasks, leases, histories),
		}, func() {}, nil

	case "postgres":
		db, err := sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			return storeSet{}, nil, fmt.Errorf("failed to open database connection: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return storeSet{}, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := migrations.Up(db, appLogger); err != nil {
			_ = db.Close()
			return storeSet{}, nil, err
		}

		closeDB := func() {
			if err := db.Close(); err != nil {
				slog.Error("error closing database connection", "error", err)
			}
		}
		tasks := postgres.NewPostgresTaskStore(db, appLogger)
		leases := postgres.NewPostgresLeaseStore(db, appLogger)
		histories := postgres.NewPostgresHistoryStore(db, appLogger)
		return storeSet{
			tasks:     tasks,
			leases:    leases,
			histories: histories,
			txn:       postgres.NewTransactor(db, tasks, leases, histories),
		}, closeDB, nil

	default:
		return storeSet{}, nil, fmt.Errorf("unknown database backend: %q", cfg.Database.Backend)
	}
}
