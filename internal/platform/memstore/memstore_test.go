package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/store"
)

func TestTaskStore_CreateAssignsSequence(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	ctx := context.Background()

	first, err := domain.NewTask("First sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, first))

	second, err := domain.NewTask("Second sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, second))

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	// Duplicate source is refused
	dup, err := domain.NewTask("First sentence.")
	require.NoError(t, err)
	err = taskStore.Create(ctx, dup)
	assert.ErrorIs(t, err, store.ErrTaskSourceExists)

	// CreateIfAbsent treats the duplicate as a skip
	inserted, err := taskStore.CreateIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestTaskStore_GetByIDReturnsCopy(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	ctx := context.Background()

	task, err := domain.NewTask("A sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, task))

	got, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)

	// Mutating the returned value must not leak into the store
	got.Annotations["fluency"] = 1
	got.Source = "tampered"

	reloaded, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Annotations)
	assert.Equal(t, "A sentence.", reloaded.Source)

	_, err = taskStore.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestTaskStore_FindPendingPagination(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	ctx := context.Background()

	var seeded []*domain.Task
	for i := 0; i < 5; i++ {
		task, err := domain.NewTask(fmt.Sprintf("Sentence %d.", i))
		require.NoError(t, err)
		require.NoError(t, taskStore.Create(ctx, task))
		seeded = append(seeded, task)
	}

	page, err := taskStore.FindPending(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, seeded[0].ID, page[0].ID)
	assert.Equal(t, seeded[1].ID, page[1].ID)

	// The next page starts after the last seen sequence
	page, err = taskStore.FindPending(ctx, page[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, seeded[2].ID, page[0].ID)

	// Non-pending tasks drop out of the scan
	editedText := ""
	user := "annotator-1"
	now := time.Now().UTC()
	applied, err := taskStore.Transition(ctx, seeded[4].ID,
		[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusAnnotating,
		store.TransitionFields{AssignedUser: &user, AssignedAt: &now, EditedText: &editedText})
	require.NoError(t, err)
	require.True(t, applied)

	page, err = taskStore.FindPending(ctx, page[1].Seq, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestTaskStore_TransitionGuardsStatus(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	ctx := context.Background()

	task, err := domain.NewTask("A sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, task))

	// Transition from a status the task is not in does nothing
	applied, err := taskStore.Transition(ctx, task.ID,
		[]domain.TaskStatus{domain.TaskStatusAnnotating}, domain.TaskStatusAnnotated,
		store.TransitionFields{})
	require.NoError(t, err)
	assert.False(t, applied)

	reloaded, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, reloaded.Status)

	// Matching guard applies and writes the assignment fields
	user := "annotator-1"
	now := time.Now().UTC()
	applied, err = taskStore.Transition(ctx, task.ID,
		[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusAnnotating,
		store.TransitionFields{AssignedUser: &user, AssignedAt: &now})
	require.NoError(t, err)
	assert.True(t, applied)

	reloaded, err = taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnnotating, reloaded.Status)
	require.NotNil(t, reloaded.AssignedUser)
	assert.Equal(t, user, *reloaded.AssignedUser)

	// Unknown task id is contention, not an error
	applied, err = taskStore.Transition(ctx, uuid.New(),
		[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusAnnotating,
		store.TransitionFields{AssignedUser: &user, AssignedAt: &now})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestTaskStore_UpdateRefusesLeasedTask(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	ctx := context.Background()

	task, err := domain.NewTask("A sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, task))

	// A pending task is freely editable
	require.NoError(t, taskStore.Update(ctx, task.ID, map[string]float64{"fluency": 3}, "edited"))

	user := "annotator-1"
	now := time.Now().UTC()
	applied, err := taskStore.Transition(ctx, task.ID,
		[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusAnnotating,
		store.TransitionFields{AssignedUser: &user, AssignedAt: &now})
	require.NoError(t, err)
	require.True(t, applied)

	err = taskStore.Update(ctx, task.ID, map[string]float64{"fluency": 5}, "clobbered")
	assert.ErrorIs(t, err, store.ErrTaskLocked)
	assert.ErrorIs(t, err, store.ErrUpdateFailed)

	// The refused write left the task untouched
	reloaded, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", reloaded.EditedText)
	assert.Equal(t, map[string]float64{"fluency": 3}, reloaded.Annotations)

	err = taskStore.Update(ctx, uuid.New(), nil, "")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestLeaseStore_AcquireExclusivity(t *testing.T) {
	t.Parallel()
	leaseStore := NewLeaseStore()
	ctx := context.Background()
	taskID := uuid.New()

	acquired, err := leaseStore.Acquire(ctx, taskID, "annotator-1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// A live lease blocks every other acquirer, including the holder
	acquired, err = leaseStore.Acquire(ctx, taskID, "annotator-2", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	lease, err := leaseStore.GetByTaskID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "annotator-1", lease.HolderUser)
}

func TestLeaseStore_AcquireConcurrent(t *testing.T) {
	t.Parallel()
	leaseStore := NewLeaseStore()
	taskID := uuid.New()

	const workers = 32
	var winners int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			acquired, err := leaseStore.Acquire(context.Background(), taskID,
				fmt.Sprintf("annotator-%d", worker), 5*time.Minute)
			assert.NoError(t, err)
			if acquired {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners, "exactly one acquirer should win")
}

func TestLeaseStore_AcquireReplacesExpiredLease(t *testing.T) {
	t.Parallel()
	leaseStore := NewLeaseStore()
	ctx := context.Background()
	taskID := uuid.New()

	base := time.Now().UTC()
	leaseStore.Now = func() time.Time { return base }

	acquired, err := leaseStore.Acquire(ctx, taskID, "annotator-1", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Once the first lease has expired, a new acquirer may replace it
	leaseStore.Now = func() time.Time { return base.Add(6 * time.Minute) }

	acquired, err = leaseStore.Acquire(ctx, taskID, "annotator-2", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	lease, err := leaseStore.GetByTaskID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "annotator-2", lease.HolderUser)
}

func TestLeaseStore_ReleaseRequiresHolder(t *testing.T) {
	t.Parallel()
	leaseStore := NewLeaseStore()
	ctx := context.Background()
	taskID := uuid.New()

	_, err := leaseStore.Acquire(ctx, taskID, "annotator-1", 5*time.Minute)
	require.NoError(t, err)

	released, err := leaseStore.Release(ctx, taskID, "annotator-2")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = leaseStore.Release(ctx, taskID, "annotator-1")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = leaseStore.GetByTaskID(ctx, taskID)
	assert.ErrorIs(t, err, store.ErrLeaseNotFound)
}

func TestLeaseStore_SweepExpired(t *testing.T) {
	t.Parallel()
	leaseStore := NewLeaseStore()
	ctx := context.Background()

	base := time.Now().UTC()
	leaseStore.Now = func() time.Time { return base }

	live := uuid.New()
	stale := uuid.New()

	_, err := leaseStore.Acquire(ctx, stale, "annotator-1", time.Minute)
	require.NoError(t, err)
	_, err = leaseStore.Acquire(ctx, live, "annotator-2", time.Hour)
	require.NoError(t, err)

	swept, err := leaseStore.SweepExpired(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale}, swept)

	// The live lease survived the sweep
	_, err = leaseStore.GetByTaskID(ctx, live)
	require.NoError(t, err)
	_, err = leaseStore.GetByTaskID(ctx, stale)
	assert.ErrorIs(t, err, store.ErrLeaseNotFound)
}

func TestHistoryStore_SaveAndGet(t *testing.T) {
	t.Parallel()
	historyStore := NewHistoryStore()
	ctx := context.Background()

	_, err := historyStore.Get(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrHistoryNotFound)

	history, err := domain.NewUserHistory("annotator-1")
	require.NoError(t, err)
	history.Append(domain.HistoryEntry{TaskID: uuid.New(), Source: "A.", VisitedAt: time.Now().UTC()})
	require.NoError(t, historyStore.Save(ctx, history))

	got, err := historyStore.Get(ctx, "annotator-1")
	require.NoError(t, err)
	assert.Equal(t, history.Tasks, got.Tasks)
	assert.Equal(t, 0, got.Cursor)

	// The stored copy is isolated from later mutation of the argument
	history.Append(domain.HistoryEntry{TaskID: uuid.New(), Source: "B.", VisitedAt: time.Now().UTC()})
	got, err = historyStore.Get(ctx, "annotator-1")
	require.NoError(t, err)
	assert.Len(t, got.Tasks, 1)

	// Invalid history is refused
	invalid := &domain.UserHistory{UserID: "annotator-1", Cursor: 7}
	err = historyStore.Save(ctx, invalid)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestHistoryStore_ListReferencing(t *testing.T) {
	t.Parallel()
	historyStore := NewHistoryStore()
	ctx := context.Background()

	shared := uuid.New()

	for _, userID := range []string{"user-b", "user-a"} {
		history, err := domain.NewUserHistory(userID)
		require.NoError(t, err)
		history.Append(domain.HistoryEntry{TaskID: shared, Source: "Shared.", VisitedAt: time.Now().UTC()})
		require.NoError(t, historyStore.Save(ctx, history))
	}

	other, err := domain.NewUserHistory("user-c")
	require.NoError(t, err)
	other.Append(domain.HistoryEntry{TaskID: uuid.New(), Source: "Own.", VisitedAt: time.Now().UTC()})
	require.NoError(t, historyStore.Save(ctx, other))

	matches, err := historyStore.ListReferencing(ctx, []uuid.UUID{shared})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// Deterministic user order
	assert.Equal(t, "user-a", matches[0].UserID)
	assert.Equal(t, "user-b", matches[1].UserID)

	matches, err = historyStore.ListReferencing(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	leaseStore := NewLeaseStore()
	historyStore := NewHistoryStore()
	txn := NewTransactor(taskStore, leaseStore, historyStore)
	ctx := context.Background()

	task, err := domain.NewTask("A sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, task))

	user := "annotator-1"
	now := time.Now().UTC()
	err = txn.Atomic(ctx, func(ctx context.Context, s store.Stores) error {
		applied, err := s.Tasks.Transition(ctx, task.ID,
			[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusAnnotating,
			store.TransitionFields{AssignedUser: &user, AssignedAt: &now})
		require.NoError(t, err)
		require.True(t, applied)

		acquired, err := s.Leases.Acquire(ctx, task.ID, user, 5*time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)
		return nil
	})
	require.NoError(t, err)

	reloaded, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnnotating, reloaded.Status)
	lease, err := leaseStore.GetByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, user, lease.HolderUser)
}

func TestTransactor_RollsBackAllStoresOnError(t *testing.T) {
	t.Parallel()
	taskStore := NewTaskStore()
	leaseStore := NewLeaseStore()
	historyStore := NewHistoryStore()
	txn := NewTransactor(taskStore, leaseStore, historyStore)
	ctx := context.Background()

	task, err := domain.NewTask("A sentence.")
	require.NoError(t, err)
	require.NoError(t, taskStore.Create(ctx, task))

	user := "annotator-1"
	now := time.Now().UTC()
	applied, err := taskStore.Transition(ctx, task.ID,
		[]domain.TaskStatus{domain.TaskStatusPending}, domain.TaskStatusAnnotating,
		store.TransitionFields{AssignedUser: &user, AssignedAt: &now})
	require.NoError(t, err)
	require.True(t, applied)

	acquired, err := leaseStore.Acquire(ctx, task.ID, user, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	history, err := domain.NewUserHistory(user)
	require.NoError(t, err)
	history.Append(domain.HistoryEntry{TaskID: task.ID, Source: task.Source, VisitedAt: now})
	require.NoError(t, historyStore.Save(ctx, history))

	boom := fmt.Errorf("write conflict")
	err = txn.Atomic(ctx, func(ctx context.Context, s store.Stores) error {
		released, err := s.Leases.Release(ctx, task.ID, user)
		require.NoError(t, err)
		require.True(t, released)

		applied, err := s.Tasks.Transition(ctx, task.ID,
			[]domain.TaskStatus{domain.TaskStatusAnnotating}, domain.TaskStatusPending,
			store.TransitionFields{})
		require.NoError(t, err)
		require.True(t, applied)

		cleared, err := domain.NewUserHistory(user)
		require.NoError(t, err)
		require.NoError(t, s.Histories.Save(ctx, cleared))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Every store is back where it started
	reloaded, err := taskStore.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnnotating, reloaded.Status)

	lease, err := leaseStore.GetByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, user, lease.HolderUser)

	got, err := historyStore.Get(ctx, user)
	require.NoError(t, err)
	assert.Len(t, got.Tasks, 1)
}
