package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelq/labelq-api/internal/api"
	"github.com/labelq/labelq-api/internal/api/middleware"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/memstore"
	"github.com/labelq/labelq-api/internal/service/assignment"
	"github.com/labelq/labelq-api/internal/store"
)

// newTestRouter wires the handlers onto in-memory stores the same way the
// server binary does, and returns the task store for seeding.
func newTestRouter(t *testing.T) (http.Handler, store.TaskStore, assignment.Service) {
	t.Helper()

	tasks := memstore.NewTaskStore()
	leases := memstore.NewLeaseStore()
	histories := memstore.NewHistoryStore()
	service := assignment.NewService(tasks, leases, histories, assignment.Config{
		Transactor:   memstore.NewTransactor(tasks, leases, histories),
		LeaseTTL:     5 * time.Minute,
		ScanPageSize: 10,
	}, nil)

	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	taskHandler := api.NewTaskHandler(service, testLogger)
	historyHandler := api.NewHistoryHandler(service, testLogger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.IdentityMiddleware)

		r.Post("/tasks/next", taskHandler.AssignNext)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Put("/tasks/{id}", taskHandler.DirectUpdate)
		r.Post("/tasks/{id}/release", taskHandler.Release)
		r.Post("/tasks/{id}/complete", taskHandler.Complete)
		r.Get("/stats", taskHandler.Stats)

		r.Get("/history", historyHandler.GetHistory)
		r.Post("/history/back", historyHandler.StepBack)
		r.Post("/history/forward", historyHandler.StepForward)
	})

	return r, tasks, service
}

func seedTask(t *testing.T, tasks store.TaskStore, source string) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(source)
	require.NoError(t, err)
	require.NoError(t, tasks.Create(context.Background(), task))
	return task
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAssignNextEndpoint(t *testing.T) {
	t.Parallel()
	router, tasks, _ := newTestRouter(t)

	// No identity header: rejected before the handler runs
	rec := doRequest(t, router, http.MethodPost, "/api/tasks/next", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Empty backlog: 204
	rec = doRequest(t, router, http.MethodPost, "/api/tasks/next", "annotator-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	seeded := seedTask(t, tasks, "A sentence to annotate.")

	rec = doRequest(t, router, http.MethodPost, "/api/tasks/next", "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, seeded.ID.String(), resp.ID)
	assert.Equal(t, "annotating", resp.Status)
	require.NotNil(t, resp.AssignedUser)
	assert.Equal(t, "annotator-1", *resp.AssignedUser)

	// Backlog exhausted for the next caller
	rec = doRequest(t, router, http.MethodPost, "/api/tasks/next", "annotator-2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetTaskEndpoint(t *testing.T) {
	t.Parallel()
	router, tasks, _ := newTestRouter(t)
	seeded := seedTask(t, tasks, "A sentence.")

	rec := doRequest(t, router, http.MethodGet, "/api/tasks/"+seeded.ID.String(), "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, seeded.ID.String(), resp.ID)
	assert.Equal(t, "pending", resp.Status)

	// Malformed id
	rec = doRequest(t, router, http.MethodGet, "/api/tasks/not-a-uuid", "annotator-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown id
	rec = doRequest(t, router, http.MethodGet,
		"/api/tasks/00000000-0000-0000-0000-000000000001", "annotator-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReleaseEndpoint(t *testing.T) {
	t.Parallel()
	router, tasks, _ := newTestRouter(t)
	seedTask(t, tasks, "A sentence.")

	rec := doRequest(t, router, http.MethodPost, "/api/tasks/next", "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var assigned api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assigned))

	// Another user cannot release it
	rec = doRequest(t, router, http.MethodPost,
		"/api/tasks/"+assigned.ID+"/release", "annotator-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The holder can
	rec = doRequest(t, router, http.MethodPost,
		"/api/tasks/"+assigned.ID+"/release", "annotator-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/tasks/"+assigned.ID, "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var released api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &released))
	assert.Equal(t, "pending", released.Status)
	assert.Nil(t, released.AssignedUser)
}

func TestCompleteEndpoint(t *testing.T) {
	t.Parallel()
	router, tasks, _ := newTestRouter(t)
	seedTask(t, tasks, "A sentence.")

	rec := doRequest(t, router, http.MethodPost, "/api/tasks/next", "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var assigned api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assigned))

	body := api.SubmitRequest{
		Annotations: map[string]float64{"fluency": 4, "adequacy": 5},
		EditedText:  "Cleaned up sentence.",
	}

	// A non-holder's completion is refused
	rec = doRequest(t, router, http.MethodPost,
		"/api/tasks/"+assigned.ID+"/complete", "annotator-2", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Malformed body
	req := httptest.NewRequest(http.MethodPost,
		"/api/tasks/"+assigned.ID+"/complete", bytes.NewReader([]byte("{not json")))
	req.Header.Set(middleware.UserIDHeader, "annotator-1")
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	// The holder completes
	rec = doRequest(t, router, http.MethodPost,
		"/api/tasks/"+assigned.ID+"/complete", "annotator-1", body)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/tasks/"+assigned.ID, "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completed api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, "annotated", completed.Status)
	assert.Equal(t, body.Annotations, completed.Annotations)
	assert.Equal(t, body.EditedText, completed.EditedText)

	// A repeat completion finds no lease
	rec = doRequest(t, router, http.MethodPost,
		"/api/tasks/"+assigned.ID+"/complete", "annotator-1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDirectUpdateEndpoint(t *testing.T) {
	t.Parallel()
	router, tasks, service := newTestRouter(t)
	seedTask(t, tasks, "A sentence.")

	task, err := service.AssignNext(context.Background(), "annotator-1")
	require.NoError(t, err)

	body := api.SubmitRequest{Annotations: map[string]float64{"fluency": 2}, EditedText: "x"}

	// Editing around a live lease is refused
	rec := doRequest(t, router, http.MethodPut, "/api/tasks/"+task.ID.String(), "reviewer-1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, service.Complete(context.Background(), task.ID, "annotator-1",
		map[string]float64{"fluency": 3}, "first pass"))

	// An annotated task is freely editable
	rec = doRequest(t, router, http.MethodPut, "/api/tasks/"+task.ID.String(), "reviewer-1", body)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	reloaded, err := service.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", reloaded.EditedText)
	assert.Equal(t, map[string]float64{"fluency": 2}, reloaded.Annotations)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	router, tasks, service := newTestRouter(t)
	for i := 0; i < 3; i++ {
		seedTask(t, tasks, fmt.Sprintf("Sentence %d.", i))
	}

	task, err := service.AssignNext(context.Background(), "annotator-1")
	require.NoError(t, err)
	require.NoError(t, service.Complete(context.Background(), task.ID, "annotator-1", nil, ""))
	_, err = service.AssignNext(context.Background(), "annotator-2")
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/api/stats", "annotator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Pending)
	assert.Equal(t, 1, resp.Annotating)
	assert.Equal(t, 1, resp.Annotated)
	assert.Equal(t, 3, resp.Total)
}
