package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty or nil.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskSourceEmpty is returned when a task's source reference is empty.
	ErrTaskSourceEmpty = errors.New("task source cannot be empty")

	// ErrTaskAssignmentInconsistent is returned when a task's status and
	// assignment fields disagree (an annotating task must carry an assigned
	// user, and only an annotating task may carry one).
	ErrTaskAssignmentInconsistent = errors.New("task status and assignment fields are inconsistent")
)

// TaskStatus represents the lifecycle state of an annotation task.
type TaskStatus string

const (
	// TaskStatusPending means the task is in the backlog, unclaimed.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusAnnotating means the task is exclusively assigned to a user.
	// A task in this status must have a live lease; the status is a derived
	// cache of lease existence and is repaired when the lease expires.
	TaskStatusAnnotating TaskStatus = "annotating"

	// TaskStatusAnnotated means the task has been completed. Terminal for
	// the leasing engine; re-edits bypass leasing entirely.
	TaskStatusAnnotated TaskStatus = "annotated"
)

// AllTaskStatuses lists every known status, in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusAnnotating,
	TaskStatusAnnotated,
}

// ParseTaskStatus converts a raw string into a TaskStatus.
// Unknown values are rejected with ErrInvalidTaskStatus so that store
// deserialization fails closed instead of silently coercing.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusAnnotating, TaskStatusAnnotated:
		return TaskStatus(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
	}
}

// Task represents a single annotation work item pulled from the corpus.
// Seq is assigned by the store at creation time and fixes the scan order
// for pending-task assignment.
type Task struct {
	ID            uuid.UUID          `json:"id"`
	Seq           int64              `json:"seq"`
	Source        string             `json:"source"`
	Status        TaskStatus         `json:"status"`
	AssignedUser  *string            `json:"assigned_user,omitempty"`
	AssignedAt    *time.Time         `json:"assigned_at,omitempty"`
	Annotations   map[string]float64 `json:"annotations"`
	EditedText    string             `json:"edited_text"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	LastUpdatedBy *string            `json:"last_updated_by,omitempty"`
}

// NewTask creates a pending Task for the given corpus source reference.
// It generates a new UUID for the task ID and sets the timestamps.
// Returns an error if validation fails.
func NewTask(source string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Source:      source,
		Status:      TaskStatusPending,
		Annotations: map[string]float64{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}

	if t.Source == "" {
		return ErrTaskSourceEmpty
	}

	if _, err := ParseTaskStatus(string(t.Status)); err != nil {
		return err
	}

	assigned := t.AssignedUser != nil && *t.AssignedUser != ""
	if t.Status == TaskStatusAnnotating && !assigned {
		return ErrTaskAssignmentInconsistent
	}
	if t.Status != TaskStatusAnnotating && assigned {
		return ErrTaskAssignmentInconsistent
	}

	return nil
}
