package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/store"
)

// PostgresLeaseStore implements the store.LeaseStore interface
// using a PostgreSQL database as the storage backend. The task_id primary
// key enforces the at-most-one-live-lease invariant at the store level,
// independent of any application-side check.
type PostgresLeaseStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresLeaseStore creates a new PostgreSQL implementation of the LeaseStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresLeaseStore(db store.DBTX, logger *slog.Logger) *PostgresLeaseStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresLeaseStore{
		db:     db,
		logger: logger.With(slog.String("component", "lease_store")),
	}
}

// Ensure PostgresLeaseStore implements store.LeaseStore interface
var _ store.LeaseStore = (*PostgresLeaseStore)(nil)

// Acquire implements store.LeaseStore.Acquire
//
// The insert-or-replace is a single statement: the conflict branch only
// fires when the existing lease has already expired at the attempt time,
// so the read-expiry-then-replace sequence cannot interleave with another
// acquirer. Zero rows affected means a live lease is held by someone else.
func (s *PostgresLeaseStore) Acquire(
	ctx context.Context,
	taskID uuid.UUID,
	userID string,
	ttl time.Duration,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	lease, err := domain.NewLease(taskID, userID, time.Now().UTC(), ttl)
	if err != nil {
		log.Warn("lease validation failed during acquire",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
		return false, err
	}

	query := `
		INSERT INTO leases (task_id, holder_user, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE
		SET holder_user = EXCLUDED.holder_user,
			acquired_at = EXCLUDED.acquired_at,
			expires_at  = EXCLUDED.expires_at
		WHERE leases.expires_at < EXCLUDED.acquired_at
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		lease.TaskID,
		lease.HolderUser,
		lease.AcquiredAt,
		lease.ExpiresAt,
	)
	if err != nil {
		// The lease row references tasks(id); a foreign key violation
		// means the task itself is gone.
		if isForeignKeyViolation(err) {
			log.Debug("lease acquire refused, task does not exist",
				slog.String("task_id", taskID.String()),
				slog.String("user_id", userID))
			return false, store.ErrTaskNotFound
		}
		log.Error("failed to acquire lease",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
		return false, store.NewStoreError("lease", "acquire", "upsert failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("lease", "acquire", "rows affected unavailable", err)
	}

	acquired := rowsAffected > 0
	if acquired {
		log.Info("lease acquired",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID),
			slog.Time("expires_at", lease.ExpiresAt))
	} else {
		log.Debug("lease already held",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
	}
	return acquired, nil
}

// Release implements store.LeaseStore.Release
// The delete is keyed on both task and holder, so a non-holder cannot
// release another user's lease.
func (s *PostgresLeaseStore) Release(ctx context.Context, taskID uuid.UUID, userID string) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `DELETE FROM leases WHERE task_id = $1 AND holder_user = $2`

	result, err := s.db.ExecContext(ctx, query, taskID, userID)
	if err != nil {
		log.Error("failed to release lease",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
		return false, store.NewStoreError("lease", "release", "delete failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("lease", "release", "rows affected unavailable", err)
	}

	released := rowsAffected > 0
	if released {
		log.Info("lease released",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
	} else {
		log.Debug("lease not held by user, nothing released",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
	}
	return released, nil
}

// GetByTaskID implements store.LeaseStore.GetByTaskID
// Returns store.ErrLeaseNotFound if no lease exists for the task.
func (s *PostgresLeaseStore) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Lease, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT task_id, holder_user, acquired_at, expires_at
		FROM leases
		WHERE task_id = $1
	`

	var lease domain.Lease
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&lease.TaskID,
		&lease.HolderUser,
		&lease.AcquiredAt,
		&lease.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("lease not found", slog.String("task_id", taskID.String()))
			return nil, store.ErrLeaseNotFound
		}
		log.Error("failed to get lease",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return nil, store.NewStoreError("lease", "get_by_task_id", "query failed", err)
	}

	return &lease, nil
}

// SweepExpired implements store.LeaseStore.SweepExpired
// It deletes all expired leases in one statement and returns the task IDs
// they covered so the coordinator can reconcile task status and histories.
func (s *PostgresLeaseStore) SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `DELETE FROM leases WHERE expires_at < $1 RETURNING task_id`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		log.Error("failed to sweep expired leases",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("lease", "sweep_expired", "delete failed", err)
	}
	defer func() { _ = rows.Close() }()

	var taskIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			log.Error("failed to scan swept lease row",
				slog.String("error", err.Error()))
			return nil, store.NewStoreError("lease", "sweep_expired", "scan failed", err)
		}
		taskIDs = append(taskIDs, id)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating swept lease rows",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("lease", "sweep_expired", "row iteration failed", err)
	}

	if len(taskIDs) > 0 {
		log.Info("expired leases swept", slog.Int("count", len(taskIDs)))
	}
	return taskIDs, nil
}

// WithTx implements store.LeaseStore.WithTx
func (s *PostgresLeaseStore) WithTx(tx *sql.Tx) store.LeaseStore {
	return &PostgresLeaseStore{
		db:     tx,
		logger: s.logger,
	}
}
