package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/store"
)

// PostgresHistoryStore implements the store.HistoryStore interface
// using a PostgreSQL database as the storage backend. The task list is
// persisted as a JSONB array; cursor arithmetic stays in the domain type.
type PostgresHistoryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresHistoryStore creates a new PostgreSQL implementation of the HistoryStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresHistoryStore(db store.DBTX, logger *slog.Logger) *PostgresHistoryStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresHistoryStore{
		db:     db,
		logger: logger.With(slog.String("component", "history_store")),
	}
}

// Ensure PostgresHistoryStore implements store.HistoryStore interface
var _ store.HistoryStore = (*PostgresHistoryStore)(nil)

// Get implements store.HistoryStore.Get
// Returns store.ErrHistoryNotFound if the user has no history yet.
func (s *PostgresHistoryStore) Get(ctx context.Context, userID string) (*domain.UserHistory, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT user_id, tasks, cursor, created_at, updated_at
		FROM user_histories
		WHERE user_id = $1
	`

	history, err := scanHistory(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("history not found", slog.String("user_id", userID))
			return nil, store.ErrHistoryNotFound
		}
		log.Error("failed to get user history",
			slog.String("error", err.Error()),
			slog.String("user_id", userID))
		if errors.Is(err, store.ErrInvalidEntity) {
			return nil, err
		}
		return nil, store.NewStoreError("user_history", "get", "query failed", err)
	}

	return history, nil
}

// Save implements store.HistoryStore.Save
// It upserts the whole history record.
func (s *PostgresHistoryStore) Save(ctx context.Context, history *domain.UserHistory) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := history.Validate(); err != nil {
		log.Warn("history validation failed during save",
			slog.String("error", err.Error()),
			slog.String("user_id", history.UserID))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	tasks, err := json.Marshal(history.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal history tasks: %w", err)
	}

	query := `
		INSERT INTO user_histories (user_id, tasks, cursor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET tasks = EXCLUDED.tasks,
			cursor = EXCLUDED.cursor,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(
		ctx,
		query,
		history.UserID,
		tasks,
		history.Cursor,
		history.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to save user history",
			slog.String("error", err.Error()),
			slog.String("user_id", history.UserID))
		return store.NewStoreError("user_history", "save", "upsert failed", err)
	}

	log.Debug("user history saved",
		slog.String("user_id", history.UserID),
		slog.Int("entries", len(history.Tasks)),
		slog.Int("cursor", history.Cursor))
	return nil
}

// ListReferencing implements store.HistoryStore.ListReferencing
// It returns every history containing at least one of the given task IDs.
func (s *PostgresHistoryStore) ListReferencing(
	ctx context.Context,
	taskIDs []uuid.UUID,
) ([]*domain.UserHistory, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(taskIDs) == 0 {
		return nil, nil
	}

	// One containment pattern per task id keeps the lookup on the GIN
	// index over the tasks column; element-wise expansion of the array
	// would not be index-served.
	patterns := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		pattern, err := json.Marshal([]map[string]string{{"task_id": id.String()}})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal task id pattern: %w", err)
		}
		patterns[i] = string(pattern)
	}

	query := `
		SELECT user_id, tasks, cursor, created_at, updated_at
		FROM user_histories
		WHERE tasks @> ANY($1::jsonb[])
	`

	rows, err := s.db.QueryContext(ctx, query, patterns)
	if err != nil {
		log.Error("failed to query histories referencing tasks",
			slog.String("error", err.Error()),
			slog.Int("task_count", len(taskIDs)))
		return nil, store.NewStoreError("user_history", "list_referencing", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var histories []*domain.UserHistory
	for rows.Next() {
		history, err := scanHistory(rows)
		if err != nil {
			log.Error("failed to scan history row",
				slog.String("error", err.Error()))
			if errors.Is(err, store.ErrInvalidEntity) {
				return nil, err
			}
			return nil, store.NewStoreError("user_history", "list_referencing", "scan failed", err)
		}
		histories = append(histories, history)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating history rows",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("user_history", "list_referencing", "row iteration failed", err)
	}

	return histories, nil
}

// WithTx implements store.HistoryStore.WithTx
func (s *PostgresHistoryStore) WithTx(tx *sql.Tx) store.HistoryStore {
	return &PostgresHistoryStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanHistory reads one history row, failing closed on malformed task
// payloads or an out-of-range cursor.
func scanHistory(row rowScanner) (*domain.UserHistory, error) {
	var history domain.UserHistory
	var tasks []byte

	err := row.Scan(
		&history.UserID,
		&tasks,
		&history.Cursor,
		&history.CreatedAt,
		&history.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	history.Tasks = []domain.HistoryEntry{}
	if len(tasks) > 0 {
		if err := json.Unmarshal(tasks, &history.Tasks); err != nil {
			return nil, fmt.Errorf("%w: malformed history tasks: %v", store.ErrInvalidEntity, err)
		}
	}

	if err := history.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	return &history, nil
}
