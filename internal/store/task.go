package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
)

// TransitionFields carries the task fields a status transition writes
// alongside the status itself. AssignedUser and AssignedAt are always
// written (nil clears the column); Annotations, EditedText and
// LastUpdatedBy are only written when non-nil.
type TransitionFields struct {
	AssignedUser  *string
	AssignedAt    *time.Time
	Annotations   map[string]float64
	EditedText    *string
	LastUpdatedBy *string
}

// TaskStore defines the interface for task data persistence.
// It owns no concurrency logic; exclusivity is the LeaseStore's concern,
// and compound task+lease mutations go through the assignment coordinator.
type TaskStore interface {
	// Create saves a new task. The store assigns the insertion-order
	// sequence number. Returns validation errors if the task is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// CreateIfAbsent saves the task unless one with the same source
	// reference already exists. Reports whether a row was inserted.
	// This is the corpus-load path: re-running a load skips duplicates.
	CreateIfAbsent(ctx context.Context, task *domain.Task) (bool, error)

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FindPending returns up to limit pending tasks with sequence numbers
	// strictly greater than afterSeq, in insertion (sequence) order. The
	// caller pages through the backlog by passing the last seen sequence,
	// so the scan is lazy and restartable rather than materialized.
	FindPending(ctx context.Context, afterSeq int64, limit int) ([]*domain.Task, error)

	// Transition applies a conditional status update: the task moves to
	// the new status, with the given fields, only if its current status is
	// in from. Reports whether the update applied. A false result is an
	// expected contention outcome, not an error; the task state must never
	// regress or advance inconsistently with the lease outcome decided by
	// the coordinator.
	Transition(
		ctx context.Context,
		id uuid.UUID,
		from []domain.TaskStatus,
		to domain.TaskStatus,
		fields TransitionFields,
	) (bool, error)

	// Update writes annotations and edited text without touching status
	// or assignment. This is the lease-free re-edit path: the write is
	// refused, in the same atomic check, when the task is currently
	// annotating under a lease. Returns ErrTaskNotFound if the task does
	// not exist and ErrTaskLocked if it is annotating.
	Update(ctx context.Context, id uuid.UUID, annotations map[string]float64, editedText string) error

	// CountByStatus returns the number of tasks per status. Statuses with
	// no tasks are present with a zero count.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error)

	// WithTx returns a TaskStore that runs its operations on the given
	// transaction. The transaction is created and managed by the caller,
	// typically via store.RunInTransaction.
	WithTx(tx *sql.Tx) TaskStore
}
