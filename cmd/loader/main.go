// Package main implements the corpus loader, a small CLI that bulk-loads
// source texts from a JSON file into the task backlog. Re-running a load
// is safe: tasks whose source already exists are skipped.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/labelq/labelq-api/internal/config"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/platform/postgres"
	"github.com/labelq/labelq-api/migrations"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("loader failed: %v", err)
	}
}

func run() error {
	var filePath string
	flag.StringVar(&filePath, "file", "", "path to a JSON file containing an array of source texts")
	flag.Parse()

	if filePath == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Backend != "postgres" {
		return fmt.Errorf("loader requires the postgres backend, got %q", cfg.Database.Backend)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	sources, err := readSources(filePath)
	if err != nil {
		return err
	}
	slog.Info("corpus file read", "path", filePath, "count", len(sources))

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrations.Up(db, appLogger); err != nil {
		return err
	}

	tasks := postgres.NewPostgresTaskStore(db, appLogger)

	ctx := context.Background()
	inserted, skipped := 0, 0
	for i, source := range sources {
		task, err := domain.NewTask(source)
		if err != nil {
			return fmt.Errorf("invalid source at index %d: %w", i, err)
		}

		ok, err := tasks.CreateIfAbsent(ctx, task)
		if err != nil {
			return fmt.Errorf("failed to load source at index %d: %w", i, err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}

	slog.Info("corpus load finished",
		"inserted", inserted,
		"skipped", skipped,
		"total", len(sources))
	fmt.Printf("loaded %d tasks (%d inserted, %d already present)\n", len(sources), inserted, skipped)
	return nil
}

// readSources parses the corpus file: a JSON array of strings. Blank
// entries are rejected up front so a bad file fails before any writes.
func readSources(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file: %w", err)
	}

	var sources []string
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse corpus file: %w", err)
	}

	for i, s := range sources {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("corpus entry %d is empty", i)
		}
	}
	return sources, nil
}
