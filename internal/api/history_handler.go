package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labelq/labelq-api/internal/api/shared"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/service/assignment"
)

// HistoryHandler handles navigation-history HTTP requests.
type HistoryHandler struct {
	service assignment.Service
	logger  *slog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(service assignment.Service, log *slog.Logger) *HistoryHandler {
	if service == nil {
		panic("service cannot be nil for HistoryHandler")
	}
	if log == nil {
		panic("logger cannot be nil for HistoryHandler")
	}

	return &HistoryHandler{
		service: service,
		logger:  log.With(slog.String("component", "history_handler")),
	}
}

// GetHistory handles GET /history requests.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := shared.GetUserID(r.Context())

	entries, cursor, err := h.service.History(r.Context(), userID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := HistoryResponse{
		Entries: make([]HistoryEntryResponse, 0, len(entries)),
		Cursor:  cursor,
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, historyEntryToResponse(entry))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// StepBack handles POST /history/back requests.
// A 204 response means the boundary was reached.
func (h *HistoryHandler) StepBack(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	userID := shared.GetUserID(r.Context())

	entry, err := h.service.StepBack(r.Context(), userID)
	if errors.Is(err, assignment.ErrHistoryBoundary) {
		log.Debug("history boundary on step back", slog.String("user_id", userID))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, historyEntryToResponse(*entry))
}

// StepForward handles POST /history/forward requests.
// A 204 response means the boundary was reached.
func (h *HistoryHandler) StepForward(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	userID := shared.GetUserID(r.Context())

	entry, err := h.service.StepForward(r.Context(), userID)
	if errors.Is(err, assignment.ErrHistoryBoundary) {
		log.Debug("history boundary on step forward", slog.String("user_id", userID))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, historyEntryToResponse(*entry))
}
