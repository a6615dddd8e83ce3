package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
)

// HistoryStore defines the interface for user navigation history persistence.
// Cursor arithmetic lives on domain.UserHistory; the store only loads and
// saves whole history records, plus the lookup the expiry purge needs.
type HistoryStore interface {
	// Get retrieves the history for a user.
	// Returns ErrHistoryNotFound if the user has no history yet.
	Get(ctx context.Context, userID string) (*domain.UserHistory, error)

	// Save upserts a history record (task list and cursor).
	// Returns validation errors if the history is invalid.
	Save(ctx context.Context, history *domain.UserHistory) error

	// ListReferencing returns every user history containing at least one
	// of the given task IDs. Used by expiry reconciliation, which must
	// purge an expired task from every history that references it, not
	// only the last holder's.
	ListReferencing(ctx context.Context, taskIDs []uuid.UUID) ([]*domain.UserHistory, error)

	// WithTx returns a HistoryStore that runs its operations on the given
	// transaction.
	WithTx(tx *sql.Tx) HistoryStore
}
