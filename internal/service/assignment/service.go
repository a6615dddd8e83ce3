// Package assignment implements the task leasing and assignment engine:
// handing the next backlog task to an annotator under an exclusive lease,
// releasing or completing leased tasks, reclaiming leases abandoned past
// their TTL, and keeping per-user navigation history consistent with
// lease state. It is the only component that mutates the task and lease
// stores together.
package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
)

// Service is the facade the annotation and review surfaces call.
type Service interface {
	// AssignNext hands the caller the first pending task (in insertion
	// order) it can both lease and transition to annotating. Expired
	// leases are swept first, so reclaimed tasks are assignable again.
	// The assigned task is appended to the caller's navigation history.
	//
	// Returns ErrNoTasksAvailable when the backlog scan exhausts without
	// a successful claim. Store failures abort the scan and surface;
	// no failing candidate is silently skipped.
	AssignNext(ctx context.Context, userID string) (*domain.Task, error)

	// Release gives up the caller's lease on a task and returns the task
	// to the pending backlog with its assignment cleared.
	//
	// Returns ErrNotHeld when the caller does not hold the lease, so a
	// client cannot release a task out from under another user.
	Release(ctx context.Context, taskID uuid.UUID, userID string) error

	// Complete records the caller's annotations, marks the task
	// annotated, clears the assignment, and releases the lease.
	//
	// Returns ErrLeaseMismatch when the caller no longer holds the lease
	// (it expired and was reassigned, or a racing completion won).
	Complete(
		ctx context.Context,
		taskID uuid.UUID,
		userID string,
		annotations map[string]float64,
		editedText string,
	) error

	// DirectUpdate edits an already-annotated task without touching lease
	// state. Returns ErrTaskNotFound if the task does not exist and
	// ErrTaskLocked if the task is currently being annotated under a
	// lease; the two update paths never collide.
	DirectUpdate(
		ctx context.Context,
		taskID uuid.UUID,
		annotations map[string]float64,
		editedText string,
	) error

	// GetTask retrieves a task by ID. Returns ErrTaskNotFound if missing.
	GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// Stats returns the number of tasks per lifecycle status.
	Stats(ctx context.Context) (map[domain.TaskStatus]int, error)

	// StepBack moves the caller's history cursor one entry back and
	// returns the entry it lands on. Returns ErrHistoryBoundary at the
	// before-start position.
	StepBack(ctx context.Context, userID string) (*domain.HistoryEntry, error)

	// StepForward moves the caller's history cursor one entry forward.
	// Returns ErrHistoryBoundary at the newest entry.
	StepForward(ctx context.Context, userID string) (*domain.HistoryEntry, error)

	// History returns the caller's visited-task entries and cursor.
	// A user with no history gets an empty list and cursor -1.
	History(ctx context.Context, userID string) ([]domain.HistoryEntry, int, error)
}

// Common error types for the assignment service. Contention and
// authorization outcomes are ordinary negative results, not failures;
// callers branch on them with errors.Is.
var (
	// ErrNoTasksAvailable indicates the pending backlog is exhausted.
	ErrNoTasksAvailable = errors.New("no tasks available for assignment")

	// ErrNotHeld indicates the caller does not hold the lease it tried to release.
	ErrNotHeld = errors.New("lease not held by caller")

	// ErrLeaseMismatch indicates the caller's lease no longer exists or
	// belongs to someone else; the mutation was refused.
	ErrLeaseMismatch = errors.New("lease mismatch")

	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskLocked indicates a lease-free edit was attempted on a task
	// currently being annotated under a lease.
	ErrTaskLocked = errors.New("task is locked for annotation")

	// ErrHistoryBoundary indicates a navigation step hit the edge of the history.
	ErrHistoryBoundary = errors.New("history boundary reached")

	// ErrInvalidUser indicates an empty or malformed user ID.
	ErrInvalidUser = errors.New("invalid user ID")
)

// ServiceError wraps errors from the assignment service with additional context.
// This allows consumers to differentiate between different types of service errors
// using errors.As instead of string matching.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "assign_next", "complete")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// newServiceError creates a ServiceError for the given operation.
func newServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
