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

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

const taskColumns = `id, seq, source, status, assigned_user, assigned_at,
	annotations, edited_text, created_at, updated_at, last_updated_by`

// Create implements store.TaskStore.Create
// It saves a new task; the database assigns the insertion-order sequence.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	annotations, err := json.Marshal(task.Annotations)
	if err != nil {
		return fmt.Errorf("failed to marshal annotations: %w", err)
	}

	query := `
		INSERT INTO tasks (id, source, status, assigned_user, assigned_at,
			annotations, edited_text, created_at, updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`
	err = s.db.QueryRowContext(
		ctx,
		query,
		task.ID,
		task.Source,
		string(task.Status),
		task.AssignedUser,
		task.AssignedAt,
		annotations,
		task.EditedText,
		task.CreatedAt,
		task.UpdatedAt,
		task.LastUpdatedBy,
	).Scan(&task.Seq)

	if err != nil {
		if isUniqueViolation(err) {
			log.Warn("duplicate task source during create",
				slog.String("task_id", task.ID.String()),
				slog.String("source", task.Source))
			return store.ErrTaskSourceExists
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return store.NewStoreError("task", "create", "insert failed", err)
	}

	log.Info("task created successfully",
		slog.String("task_id", task.ID.String()),
		slog.Int64("seq", task.Seq))
	return nil
}

// CreateIfAbsent implements store.TaskStore.CreateIfAbsent
// It inserts the task unless one with the same source already exists.
func (s *PostgresTaskStore) CreateIfAbsent(ctx context.Context, task *domain.Task) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	annotations, err := json.Marshal(task.Annotations)
	if err != nil {
		return false, fmt.Errorf("failed to marshal annotations: %w", err)
	}

	query := `
		INSERT INTO tasks (id, source, status, assigned_user, assigned_at,
			annotations, edited_text, created_at, updated_at, last_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source) DO NOTHING
		RETURNING seq
	`
	err = s.db.QueryRowContext(
		ctx,
		query,
		task.ID,
		task.Source,
		string(task.Status),
		task.AssignedUser,
		task.AssignedAt,
		annotations,
		task.EditedText,
		task.CreatedAt,
		task.UpdatedAt,
		task.LastUpdatedBy,
	).Scan(&task.Seq)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task source already present, skipping",
				slog.String("source", task.Source))
			return false, nil
		}
		log.Error("failed to create task if absent",
			slog.String("error", err.Error()),
			slog.String("source", task.Source))
		return false, store.NewStoreError("task", "create_if_absent", "insert failed", err)
	}

	return true, nil
}

// GetByID implements store.TaskStore.GetByID
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("retrieving task by ID", slog.String("task_id", id.String()))

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		if errors.Is(err, store.ErrInvalidEntity) {
			return nil, err
		}
		return nil, store.NewStoreError("task", "get_by_id", "query failed", err)
	}

	return task, nil
}

// FindPending implements store.TaskStore.FindPending
// It returns one keyset page of pending tasks in insertion order.
func (s *PostgresTaskStore) FindPending(ctx context.Context, afterSeq int64, limit int) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, string(domain.TaskStatusPending), afterSeq, limit)
	if err != nil {
		log.Error("failed to query pending tasks",
			slog.String("error", err.Error()),
			slog.Int64("after_seq", afterSeq))
		return nil, store.NewStoreError("task", "find_pending", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan pending task row",
				slog.String("error", err.Error()))
			if errors.Is(err, store.ErrInvalidEntity) {
				return nil, err
			}
			return nil, store.NewStoreError("task", "find_pending", "scan failed", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating pending task rows",
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "find_pending", "row iteration failed", err)
	}

	return tasks, nil
}

// Transition implements store.TaskStore.Transition
// The update applies only when the task's current status is in from;
// the boolean result distinguishes contention from success.
func (s *PostgresTaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from []domain.TaskStatus,
	to domain.TaskStatus,
	fields store.TransitionFields,
) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	fromStatuses := make([]string, len(from))
	for i, st := range from {
		fromStatuses[i] = string(st)
	}

	var annotations []byte
	if fields.Annotations != nil {
		var err error
		annotations, err = json.Marshal(fields.Annotations)
		if err != nil {
			return false, fmt.Errorf("failed to marshal annotations: %w", err)
		}
	}

	query := `
		UPDATE tasks
		SET status = $2,
			assigned_user = $3,
			assigned_at = $4,
			annotations = COALESCE($5::jsonb, annotations),
			edited_text = COALESCE($6::text, edited_text),
			last_updated_by = COALESCE($7::text, last_updated_by),
			updated_at = $8
		WHERE id = $1 AND status = ANY($9::text[])
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		id,
		string(to),
		fields.AssignedUser,
		fields.AssignedAt,
		annotations,
		fields.EditedText,
		fields.LastUpdatedBy,
		time.Now().UTC(),
		fromStatuses,
	)
	if err != nil {
		log.Error("failed to transition task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("to_status", string(to)))
		return false, store.NewStoreError("task", "transition", "update failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected for transition",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return false, store.NewStoreError("task", "transition", "rows affected unavailable", err)
	}

	applied := rowsAffected > 0
	log.Debug("task transition attempted",
		slog.String("task_id", id.String()),
		slog.String("to_status", string(to)),
		slog.Bool("applied", applied))
	return applied, nil
}

// Update implements store.TaskStore.Update
// The status guard sits in the UPDATE itself, so the lease-free re-edit
// path cannot race a concurrent assignment into writing over a task that
// just went annotating. Zero rows then means either a missing task or a
// leased one; a follow-up status read only classifies the refusal.
func (s *PostgresTaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	annotations map[string]float64,
	editedText string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	encoded, err := json.Marshal(annotations)
	if err != nil {
		return fmt.Errorf("failed to marshal annotations: %w", err)
	}

	query := `
		UPDATE tasks
		SET annotations = $2, edited_text = $3, updated_at = $4
		WHERE id = $1 AND status <> $5
	`

	result, err := s.db.ExecContext(ctx, query,
		id, encoded, editedText, time.Now().UTC(), string(domain.TaskStatusAnnotating))
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return store.NewStoreError("task", "update", "update failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "update", "rows affected unavailable", err)
	}
	if rowsAffected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found for update", slog.String("task_id", id.String()))
			return store.ErrTaskNotFound
		}
		if err != nil {
			return store.NewStoreError("task", "update", "status lookup failed", err)
		}
		log.Debug("update refused, task is leased",
			slog.String("task_id", id.String()),
			slog.String("status", status))
		return store.ErrTaskLocked
	}

	log.Info("task updated successfully", slog.String("task_id", id.String()))
	return nil
}

// CountByStatus implements store.TaskStore.CountByStatus
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	counts := make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses))
	for _, st := range domain.AllTaskStatuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		log.Error("failed to count tasks by status", slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "count_by_status", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rawStatus string
		var count int
		if err := rows.Scan(&rawStatus, &count); err != nil {
			return nil, err
		}
		status, err := domain.ParseTaskStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row, failing closed on unknown status values
// or malformed annotation payloads.
func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var rawStatus string
	var annotations []byte
	var assignedUser, lastUpdatedBy sql.NullString
	var assignedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Seq,
		&task.Source,
		&rawStatus,
		&assignedUser,
		&assignedAt,
		&annotations,
		&task.EditedText,
		&task.CreatedAt,
		&task.UpdatedAt,
		&lastUpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	status, err := domain.ParseTaskStatus(rawStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	task.Status = status

	if assignedUser.Valid {
		task.AssignedUser = &assignedUser.String
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		task.AssignedAt = &t
	}
	if lastUpdatedBy.Valid {
		task.LastUpdatedBy = &lastUpdatedBy.String
	}

	task.Annotations = map[string]float64{}
	if len(annotations) > 0 {
		if err := json.Unmarshal(annotations, &task.Annotations); err != nil {
			return nil, fmt.Errorf("%w: malformed annotations: %v", store.ErrInvalidEntity, err)
		}
	}

	return &task, nil
}
