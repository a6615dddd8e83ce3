package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/store"
)

// TaskStore is a mutex-guarded in-memory implementation of store.TaskStore.
type TaskStore struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*domain.Task
	bySource map[string]uuid.UUID
	nextSeq  int64
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:    make(map[uuid.UUID]*domain.Task),
		bySource: make(map[string]uuid.UUID),
	}
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// Create implements store.TaskStore.Create
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySource[task.Source]; exists {
		return store.ErrTaskSourceExists
	}

	s.nextSeq++
	task.Seq = s.nextSeq
	s.tasks[task.ID] = copyTask(task)
	s.bySource[task.Source] = task.ID
	return nil
}

// CreateIfAbsent implements store.TaskStore.CreateIfAbsent
func (s *TaskStore) CreateIfAbsent(ctx context.Context, task *domain.Task) (bool, error) {
	err := s.Create(ctx, task)
	if err != nil {
		if store.IsDuplicateError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetByID implements store.TaskStore.GetByID
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(task), nil
}

// FindPending implements store.TaskStore.FindPending
func (s *TaskStore) FindPending(ctx context.Context, afterSeq int64, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Task
	for _, task := range s.tasks {
		if task.Status == domain.TaskStatusPending && task.Seq > afterSeq {
			pending = append(pending, copyTask(task))
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Transition implements store.TaskStore.Transition
func (s *TaskStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from []domain.TaskStatus,
	to domain.TaskStatus,
	fields store.TransitionFields,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false, nil
	}

	matched := false
	for _, st := range from {
		if task.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	task.Status = to
	task.AssignedUser = fields.AssignedUser
	task.AssignedAt = fields.AssignedAt
	if fields.Annotations != nil {
		task.Annotations = copyAnnotations(fields.Annotations)
	}
	if fields.EditedText != nil {
		task.EditedText = *fields.EditedText
	}
	if fields.LastUpdatedBy != nil {
		task.LastUpdatedBy = fields.LastUpdatedBy
	}
	task.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Update implements store.TaskStore.Update
// The status check and the write share the store mutex, matching the
// single-statement guard of the postgres implementation.
func (s *TaskStore) Update(
	ctx context.Context,
	id uuid.UUID,
	annotations map[string]float64,
	editedText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if task.Status == domain.TaskStatusAnnotating {
		return store.ErrTaskLocked
	}

	task.Annotations = copyAnnotations(annotations)
	task.EditedText = editedText
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// CountByStatus implements store.TaskStore.CountByStatus
func (s *TaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses))
	for _, st := range domain.AllTaskStatuses {
		counts[st] = 0
	}
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// WithTx implements store.TaskStore.WithTx
// The in-memory store has no transactions; each operation is atomic
// under the store mutex, so the same store is returned.
func (s *TaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return s
}

// taskSnapshot holds a deep copy of the store state for rollback.
type taskSnapshot struct {
	tasks    map[uuid.UUID]*domain.Task
	bySource map[string]uuid.UUID
	nextSeq  int64
}

func (s *TaskStore) snapshot() taskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make(map[uuid.UUID]*domain.Task, len(s.tasks))
	for id, task := range s.tasks {
		tasks[id] = copyTask(task)
	}
	bySource := make(map[string]uuid.UUID, len(s.bySource))
	for source, id := range s.bySource {
		bySource[source] = id
	}
	return taskSnapshot{tasks: tasks, bySource: bySource, nextSeq: s.nextSeq}
}

func (s *TaskStore) restore(snap taskSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = snap.tasks
	s.bySource = snap.bySource
	s.nextSeq = snap.nextSeq
}

func copyTask(t *domain.Task) *domain.Task {
	dup := *t
	dup.Annotations = copyAnnotations(t.Annotations)
	if t.AssignedUser != nil {
		u := *t.AssignedUser
		dup.AssignedUser = &u
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		dup.AssignedAt = &at
	}
	if t.LastUpdatedBy != nil {
		u := *t.LastUpdatedBy
		dup.LastUpdatedBy = &u
	}
	return &dup
}

func copyAnnotations(src map[string]float64) map[string]float64 {
	dup := make(map[string]float64, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}
