package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// History-specific validation errors
var (
	// ErrHistoryUserIDEmpty is returned when a history's user ID is empty.
	ErrHistoryUserIDEmpty = errors.New("history user ID cannot be empty")

	// ErrHistoryCursorOutOfRange is returned when a history's cursor lies
	// outside [-1, len(tasks)-1].
	ErrHistoryCursorOutOfRange = errors.New("history cursor out of range")
)

// HistoryEntry is a value-copied back-reference to a visited task.
// The authoritative task state always lives in the task store; the entry
// only carries enough to render a navigation step.
type HistoryEntry struct {
	TaskID    uuid.UUID `json:"task_id"`
	Source    string    `json:"source"`
	VisitedAt time.Time `json:"visited_at"`
}

// UserHistory is a user's ordered sequence of visited tasks plus a cursor
// into it. Cursor -1 means before-start (empty position). The invariant
// -1 <= Cursor < len(Tasks) holds after every mutation.
type UserHistory struct {
	UserID    string         `json:"user_id"`
	Tasks     []HistoryEntry `json:"tasks"`
	Cursor    int            `json:"cursor"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewUserHistory creates an empty history for the given user.
// Histories are created lazily, on the user's first task visit.
func NewUserHistory(userID string) (*UserHistory, error) {
	now := time.Now().UTC()
	history := &UserHistory{
		UserID:    userID,
		Tasks:     []HistoryEntry{},
		Cursor:    -1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := history.Validate(); err != nil {
		return nil, err
	}

	return history, nil
}

// Validate checks if the UserHistory has valid data.
func (h *UserHistory) Validate() error {
	if h.UserID == "" {
		return ErrHistoryUserIDEmpty
	}

	if h.Cursor < -1 || h.Cursor >= len(h.Tasks) {
		return ErrHistoryCursorOutOfRange
	}

	return nil
}

// Append adds a visited task to the end of the history and moves the
// cursor onto it. Navigation always moves forward through fresh appends;
// revisiting a task produces a new entry rather than deduplicating.
func (h *UserHistory) Append(entry HistoryEntry) {
	h.Tasks = append(h.Tasks, entry)
	h.Cursor = len(h.Tasks) - 1
	h.UpdatedAt = time.Now().UTC()
}

// Current returns the entry under the cursor, or false when the cursor is
// at the before-start position.
func (h *UserHistory) Current() (HistoryEntry, bool) {
	if h.Cursor < 0 || h.Cursor >= len(h.Tasks) {
		return HistoryEntry{}, false
	}
	return h.Tasks[h.Cursor], true
}

// StepBack moves the cursor one entry back and returns the entry it lands
// on. Stepping back from the first entry parks the cursor at -1 and
// reports a boundary; stepping back at -1 is a no-op boundary.
func (h *UserHistory) StepBack() (HistoryEntry, bool) {
	if h.Cursor <= 0 {
		if h.Cursor == 0 {
			h.Cursor = -1
			h.UpdatedAt = time.Now().UTC()
		}
		return HistoryEntry{}, false
	}

	h.Cursor--
	h.UpdatedAt = time.Now().UTC()
	return h.Tasks[h.Cursor], true
}

// StepForward moves the cursor one entry forward and returns the entry it
// lands on, or reports a boundary when already at the newest entry.
func (h *UserHistory) StepForward() (HistoryEntry, bool) {
	if h.Cursor >= len(h.Tasks)-1 {
		return HistoryEntry{}, false
	}

	h.Cursor++
	h.UpdatedAt = time.Now().UTC()
	return h.Tasks[h.Cursor], true
}

// RemoveTasks drops every entry whose task ID is in taskIDs and clamps the
// cursor: each removed entry at or before the cursor pulls it one position
// back, landing it on the nearest surviving previous entry, or -1 if none
// remain. Returns the number of entries removed.
func (h *UserHistory) RemoveTasks(taskIDs []uuid.UUID) int {
	if len(taskIDs) == 0 || len(h.Tasks) == 0 {
		return 0
	}

	doomed := make(map[uuid.UUID]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		doomed[id] = struct{}{}
	}

	kept := make([]HistoryEntry, 0, len(h.Tasks))
	cursor := h.Cursor
	removed := 0

	for i, entry := range h.Tasks {
		if _, ok := doomed[entry.TaskID]; ok {
			if i <= h.Cursor {
				cursor--
			}
			removed++
			continue
		}
		kept = append(kept, entry)
	}

	if removed == 0 {
		return 0
	}

	if cursor >= len(kept) {
		cursor = len(kept) - 1
	}
	if cursor < -1 {
		cursor = -1
	}

	h.Tasks = kept
	h.Cursor = cursor
	h.UpdatedAt = time.Now().UTC()
	return removed
}

// References reports whether any entry points at the given task.
func (h *UserHistory) References(taskID uuid.UUID) bool {
	for _, entry := range h.Tasks {
		if entry.TaskID == taskID {
			return true
		}
	}
	return false
}
