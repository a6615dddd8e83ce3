package api

import (
	"time"

	"github.com/labelq/labelq-api/internal/domain"
)

// TaskResponse represents the response data for a task.
type TaskResponse struct {
	ID            string             `json:"id"`
	Seq           int64              `json:"seq"`
	Source        string             `json:"source"`
	Status        string             `json:"status"`
	AssignedUser  *string            `json:"assigned_user,omitempty"`
	AssignedAt    *time.Time         `json:"assigned_at,omitempty"`
	Annotations   map[string]float64 `json:"annotations"`
	EditedText    string             `json:"edited_text"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	LastUpdatedBy *string            `json:"last_updated_by,omitempty"`
}

// taskToResponse transforms a domain task into its API representation.
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:            task.ID.String(),
		Seq:           task.Seq,
		Source:        task.Source,
		Status:        string(task.Status),
		AssignedUser:  task.AssignedUser,
		AssignedAt:    task.AssignedAt,
		Annotations:   task.Annotations,
		EditedText:    task.EditedText,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
		LastUpdatedBy: task.LastUpdatedBy,
	}
}

// SubmitRequest is the request body for completing or directly updating
// a task.
type SubmitRequest struct {
	Annotations map[string]float64 `json:"annotations"`
	EditedText  string             `json:"edited_text"`
}

// HistoryEntryResponse represents one visited task in a user's history.
type HistoryEntryResponse struct {
	TaskID    string    `json:"task_id"`
	Source    string    `json:"source"`
	VisitedAt time.Time `json:"visited_at"`
}

// HistoryResponse represents a user's navigation history and cursor.
type HistoryResponse struct {
	Entries []HistoryEntryResponse `json:"entries"`
	Cursor  int                    `json:"cursor"`
}

func historyEntryToResponse(entry domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		TaskID:    entry.TaskID.String(),
		Source:    entry.Source,
		VisitedAt: entry.VisitedAt,
	}
}

// StatsResponse represents task counts per lifecycle status.
type StatsResponse struct {
	Pending    int `json:"pending"`
	Annotating int `json:"annotating"`
	Annotated  int `json:"annotated"`
	Total      int `json:"total"`
}
