package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/store"
)

func newTaskStoreWithMock(t *testing.T) (*PostgresTaskStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresTaskStore(db, nil), mock
}

func taskRowColumns() []string {
	return []string{
		"id", "seq", "source", "status", "assigned_user", "assigned_at",
		"annotations", "edited_text", "created_at", "updated_at", "last_updated_by",
	}
}

func TestPostgresTaskStore_Create(t *testing.T) {
	t.Parallel()

	t.Run("assigns sequence on insert", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		task, err := domain.NewTask("A sentence to annotate.")
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

		require.NoError(t, taskStore.Create(context.Background(), task))
		assert.Equal(t, int64(42), task.Seq)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps unique violation to duplicate sentinel", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		task, err := domain.NewTask("A sentence to annotate.")
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolationCode})

		err = taskStore.Create(context.Background(), task)
		assert.ErrorIs(t, err, store.ErrTaskSourceExists)
	})

	t.Run("rejects invalid task before touching the database", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		err := taskStore.Create(context.Background(), &domain.Task{ID: uuid.New()})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTaskStore_CreateIfAbsent(t *testing.T) {
	t.Parallel()

	t.Run("inserts new source", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		task, err := domain.NewTask("Fresh sentence.")
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (source) DO NOTHING")).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(7)))

		inserted, err := taskStore.CreateIfAbsent(context.Background(), task)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, int64(7), task.Seq)
	})

	t.Run("skips existing source", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		task, err := domain.NewTask("Already loaded sentence.")
		require.NoError(t, err)

		// DO NOTHING returns no row, which is the skip signal, not an error
		mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (source) DO NOTHING")).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}))

		inserted, err := taskStore.CreateIfAbsent(context.Background(), task)
		require.NoError(t, err)
		assert.False(t, inserted)
	})
}

func TestPostgresTaskStore_GetByID(t *testing.T) {
	t.Parallel()
	taskID := uuid.New()

	t.Run("returns task", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		now := time.Now().UTC()
		rows := sqlmock.NewRows(taskRowColumns()).AddRow(
			taskID.String(), int64(3), "A sentence.", "annotating",
			"annotator-1", now, []byte(`{"fluency":4}`), "edited",
			now, now, nil,
		)

		mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = $1")).
			WithArgs(taskID).
			WillReturnRows(rows)

		task, err := taskStore.GetByID(context.Background(), taskID)
		require.NoError(t, err)
		assert.Equal(t, taskID, task.ID)
		assert.Equal(t, int64(3), task.Seq)
		assert.Equal(t, domain.TaskStatusAnnotating, task.Status)
		require.NotNil(t, task.AssignedUser)
		assert.Equal(t, "annotator-1", *task.AssignedUser)
		assert.Equal(t, map[string]float64{"fluency": 4}, task.Annotations)
		assert.Nil(t, task.LastUpdatedBy)
	})

	t.Run("maps missing task to sentinel", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = $1")).
			WithArgs(taskID).
			WillReturnRows(sqlmock.NewRows(taskRowColumns()))

		_, err := taskStore.GetByID(context.Background(), taskID)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("fails closed on unknown status", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		now := time.Now().UTC()
		rows := sqlmock.NewRows(taskRowColumns()).AddRow(
			taskID.String(), int64(3), "A sentence.", "archived",
			nil, nil, []byte(`{}`), "", now, now, nil,
		)

		mock.ExpectQuery(regexp.QuoteMeta("FROM tasks WHERE id = $1")).
			WithArgs(taskID).
			WillReturnRows(rows)

		_, err := taskStore.GetByID(context.Background(), taskID)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestPostgresTaskStore_Update(t *testing.T) {
	t.Parallel()
	taskID := uuid.New()

	t.Run("writes annotations and edited text", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks")).
			WithArgs(taskID, []byte(`{"fluency":5}`), "rewritten", sqlmock.AnyArg(), "annotating").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := taskStore.Update(context.Background(), taskID,
			map[string]float64{"fluency": 5}, "rewritten")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps zero rows on a missing task to not found", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM tasks WHERE id = $1")).
			WithArgs(taskID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		err := taskStore.Update(context.Background(), taskID, nil, "")
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("refuses a task that is annotating", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		// The guard is in the UPDATE itself; the status read only
		// classifies the refusal
		mock.ExpectExec(regexp.QuoteMeta("status <> $5")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM tasks WHERE id = $1")).
			WithArgs(taskID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("annotating"))

		err := taskStore.Update(context.Background(), taskID, nil, "")
		assert.ErrorIs(t, err, store.ErrTaskLocked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTaskStore_CountByStatus(t *testing.T) {
	t.Parallel()

	t.Run("zero-fills absent statuses", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		rows := sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 10).
			AddRow("annotated", 3)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM tasks GROUP BY status")).
			WillReturnRows(rows)

		counts, err := taskStore.CountByStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 10, counts[domain.TaskStatusPending])
		assert.Equal(t, 0, counts[domain.TaskStatusAnnotating])
		assert.Equal(t, 3, counts[domain.TaskStatusAnnotated])
	})

	t.Run("fails closed on unknown status", func(t *testing.T) {
		taskStore, mock := newTaskStoreWithMock(t)

		rows := sqlmock.NewRows([]string{"status", "count"}).
			AddRow("archived", 1)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM tasks GROUP BY status")).
			WillReturnRows(rows)

		_, err := taskStore.CountByStatus(context.Background())
		assert.ErrorIs(t, err, domain.ErrInvalidTaskStatus)
	})
}
