package postgres

import (
	"context"
	"database/sql"

	"github.com/labelq/labelq-api/internal/store"
)

// Transactor implements store.Transactor over a *sql.DB. Atomic opens a
// database transaction and hands the function transaction-scoped views
// of the three stores, so a compound mutation like the expiry sweep
// commits or rolls back as one unit.
type Transactor struct {
	db        *sql.DB
	tasks     *PostgresTaskStore
	leases    *PostgresLeaseStore
	histories *PostgresHistoryStore
}

// NewTransactor creates a Transactor over the given connection pool and
// store implementations.
func NewTransactor(
	db *sql.DB,
	tasks *PostgresTaskStore,
	leases *PostgresLeaseStore,
	histories *PostgresHistoryStore,
) *Transactor {
	if db == nil {
		panic("db cannot be nil")
	}
	if tasks == nil {
		panic("tasks store cannot be nil")
	}
	if leases == nil {
		panic("leases store cannot be nil")
	}
	if histories == nil {
		panic("histories store cannot be nil")
	}

	return &Transactor{
		db:        db,
		tasks:     tasks,
		leases:    leases,
		histories: histories,
	}
}

// Ensure Transactor implements store.Transactor interface
var _ store.Transactor = (*Transactor)(nil)

// Atomic implements store.Transactor.Atomic
func (t *Transactor) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, s store.Stores) error,
) error {
	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, store.Stores{
			Tasks:     t.tasks.WithTx(tx),
			Leases:    t.leases.WithTx(tx),
			Histories: t.histories.WithTx(tx),
		})
	})
}
