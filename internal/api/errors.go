package api

import (
	"errors"
	"net/http"

	"github.com/labelq/labelq-api/internal/service/assignment"
)

// MapErrorToStatusCode translates assignment service errors into HTTP
// status codes. Contention outcomes map to 409, authorization outcomes
// to 403, absence to 404; anything unrecognized is a 500.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, assignment.ErrNoTasksAvailable):
		return http.StatusNoContent
	case errors.Is(err, assignment.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, assignment.ErrNotHeld):
		return http.StatusForbidden
	case errors.Is(err, assignment.ErrLeaseMismatch):
		return http.StatusConflict
	case errors.Is(err, assignment.ErrTaskLocked):
		return http.StatusConflict
	case errors.Is(err, assignment.ErrHistoryBoundary):
		return http.StatusNoContent
	case errors.Is(err, assignment.ErrInvalidUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for the error.
// Expected negative outcomes carry their own text; everything else is
// flattened so internal details never leak to clients.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, assignment.ErrNoTasksAvailable):
		return "No tasks available"
	case errors.Is(err, assignment.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, assignment.ErrNotHeld):
		return "Task is not held by this user"
	case errors.Is(err, assignment.ErrLeaseMismatch):
		return "Task lease is no longer valid"
	case errors.Is(err, assignment.ErrTaskLocked):
		return "Task is currently being annotated"
	case errors.Is(err, assignment.ErrHistoryBoundary):
		return "History boundary reached"
	case errors.Is(err, assignment.ErrInvalidUser):
		return "Invalid user identity"
	default:
		return "An internal error occurred"
	}
}
