package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/labelq/labelq-api/internal/platform/logger"
)

// Stores bundles transactional views of the three stores the assignment
// engine mutates together. A Transactor hands one of these to the
// function it runs, so compound mutations (lease sweep plus task reset
// plus history purge) land or roll back as a unit.
type Stores struct {
	Tasks     TaskStore
	Leases    LeaseStore
	Histories HistoryStore
}

// Transactor runs a function against an all-or-nothing view of the
// stores. Writes made through the Stores passed to fn are only visible
// to other callers once fn returns nil; an error (or panic) discards
// them. The error from fn is returned unchanged so sentinel checks with
// errors.Is keep working across the transaction boundary.
type Transactor interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// TxFn is a function that executes within a database transaction.
// It receives the context and a transaction, and returns an error if the operation fails.
// The transaction is committed if the function returns nil, or rolled back if it returns an error.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
// The function handles rollbacks in case of panic and logs appropriate information.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrTransactionFailed, err)
	}

	// Roll back on panic, then re-panic so the caller still sees it.
	defer func() {
		if p := recover(); p != nil {
			txErr := tx.Rollback()
			if txErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", txErr.Error()),
					slog.Any("panic", p))
			} else {
				log.Error("rolled back transaction after panic",
					slog.Any("panic", p))
			}
			panic(p)
		}
	}()

	err = fn(ctx, tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rollbackErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf(
				"error rolling back transaction: %v (original error: %w)",
				rollbackErr,
				err,
			)
		}
		log.Debug("rolled back transaction due to error",
			slog.String("error", err.Error()))
		return err
	}

	err = tx.Commit()
	if err != nil {
		log.Error("failed to commit transaction",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: failed to commit transaction: %w", ErrTransactionFailed, err)
	}

	log.Debug("transaction committed successfully")
	return nil
}
