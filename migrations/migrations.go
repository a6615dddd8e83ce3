// Package migrations embeds the SQL schema migrations and applies them
// with goose at startup.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var embedded embed.FS

// migrationTableName is where goose records applied versions.
const migrationTableName = "schema_migrations"

// Up applies all pending migrations against the given database.
func Up(db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	goose.SetLogger(&slogGooseLogger{logger: log.With(slog.String("component", "migrations"))})
	goose.SetBaseFS(embedded)
	goose.SetTableName(migrationTableName)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// slogGooseLogger adapts goose's logging interface to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}
