package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/api/shared"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/service/assignment"
)

// TaskHandler handles task assignment and lifecycle HTTP requests.
type TaskHandler struct {
	service assignment.Service
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(service assignment.Service, log *slog.Logger) *TaskHandler {
	if service == nil {
		panic("service cannot be nil for TaskHandler")
	}
	if log == nil {
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		service: service,
		logger:  log.With(slog.String("component", "task_handler")),
	}
}

// AssignNext handles POST /tasks/next requests.
// It hands the caller the next pending task under a fresh lease, or 204
// when the backlog is exhausted.
func (h *TaskHandler) AssignNext(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID := shared.GetUserID(r.Context())
	if userID == "" {
		log.Warn("user ID not found in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found")
		return
	}

	task, err := h.service.AssignNext(r.Context(), userID)
	if errors.Is(err, assignment.ErrNoTasksAvailable) {
		log.Debug("no tasks available", slog.String("user_id", userID))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task assigned",
		slog.String("user_id", userID),
		slog.String("task_id", task.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// GetTask handles GET /tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Release handles POST /tasks/{id}/release requests.
// The task returns to the backlog; only the lease holder may release.
func (h *TaskHandler) Release(w http.ResponseWriter, r *http.Request) {
	userID := shared.GetUserID(r.Context())
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Release(r.Context(), taskID, userID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Complete handles POST /tasks/{id}/complete requests.
// It records the caller's annotations and finishes the task under its lease.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID := shared.GetUserID(r.Context())
	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debug("malformed complete request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.Complete(r.Context(), taskID, userID, req.Annotations, req.EditedText)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DirectUpdate handles PUT /tasks/{id} requests.
// It edits an already-annotated task without touching lease state.
func (h *TaskHandler) DirectUpdate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debug("malformed update request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.DirectUpdate(r.Context(), taskID, req.Annotations, req.EditedText)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /stats requests.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := StatsResponse{
		Pending:    counts[domain.TaskStatusPending],
		Annotating: counts[domain.TaskStatusAnnotating],
		Annotated:  counts[domain.TaskStatusAnnotated],
	}
	resp.Total = resp.Pending + resp.Annotating + resp.Annotated

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// taskIDFromRequest parses the {id} URL parameter, responding with 400 on
// malformed IDs.
func (h *TaskHandler) taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	taskID, err := uuid.Parse(raw)
	if err != nil {
		log := logger.FromContextOrDefault(r.Context(), h.logger)
		log.Debug("malformed task ID", slog.String("raw_id", raw))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}
