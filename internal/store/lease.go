package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
)

// LeaseStore defines the interface for exclusivity lease persistence.
// The store enforces at most one live lease per task; that uniqueness
// check is the only cross-worker synchronization primitive in the engine.
type LeaseStore interface {
	// Acquire attempts to take the lease on taskID for userID with the
	// given TTL. The attempt must be a single atomic conditional write:
	// insert a new lease, or replace the existing one only if it has
	// already expired at the attempt time. Reports false when a live
	// lease is held by someone else; that is expected contention, not an
	// error. No two callers may ever both observe success for the same
	// task while a single lease lifetime is in effect.
	Acquire(ctx context.Context, taskID uuid.UUID, userID string, ttl time.Duration) (bool, error)

	// Release deletes the lease on taskID only if it is held by userID.
	// Reports false when no such lease exists, so a non-holder cannot
	// release another user's lease.
	Release(ctx context.Context, taskID uuid.UUID, userID string) (bool, error)

	// GetByTaskID retrieves the lease for a task.
	// Returns ErrLeaseNotFound if no lease exists.
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Lease, error)

	// SweepExpired deletes every lease with an expiry before now and
	// returns the task IDs they covered, for downstream reconciliation
	// of task status and user histories.
	SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// WithTx returns a LeaseStore that runs its operations on the given
	// transaction.
	WithTx(tx *sql.Tx) LeaseStore
}
