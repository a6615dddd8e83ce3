package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/store"
)

// HistoryStore is a mutex-guarded in-memory implementation of store.HistoryStore.
type HistoryStore struct {
	mu        sync.Mutex
	histories map[string]*domain.UserHistory
}

// NewHistoryStore creates an empty in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		histories: make(map[string]*domain.UserHistory),
	}
}

// Ensure HistoryStore implements store.HistoryStore interface
var _ store.HistoryStore = (*HistoryStore)(nil)

// Get implements store.HistoryStore.Get
func (s *HistoryStore) Get(ctx context.Context, userID string) (*domain.UserHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.histories[userID]
	if !ok {
		return nil, store.ErrHistoryNotFound
	}
	return copyHistory(history), nil
}

// Save implements store.HistoryStore.Save
func (s *HistoryStore) Save(ctx context.Context, history *domain.UserHistory) error {
	if err := history.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[history.UserID] = copyHistory(history)
	return nil
}

// ListReferencing implements store.HistoryStore.ListReferencing
func (s *HistoryStore) ListReferencing(
	ctx context.Context,
	taskIDs []uuid.UUID,
) ([]*domain.UserHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*domain.UserHistory
	for _, history := range s.histories {
		for _, taskID := range taskIDs {
			if history.References(taskID) {
				matches = append(matches, copyHistory(history))
				break
			}
		}
	}

	// Deterministic order keeps the purge path and its tests stable.
	sort.Slice(matches, func(i, j int) bool { return matches[i].UserID < matches[j].UserID })
	return matches, nil
}

// WithTx implements store.HistoryStore.WithTx
func (s *HistoryStore) WithTx(tx *sql.Tx) store.HistoryStore {
	return s
}

func (s *HistoryStore) snapshot() map[string]*domain.UserHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	histories := make(map[string]*domain.UserHistory, len(s.histories))
	for userID, history := range s.histories {
		histories[userID] = copyHistory(history)
	}
	return histories
}

func (s *HistoryStore) restore(snap map[string]*domain.UserHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories = snap
}

func copyHistory(h *domain.UserHistory) *domain.UserHistory {
	dup := *h
	dup.Tasks = make([]domain.HistoryEntry, len(h.Tasks))
	copy(dup.Tasks, h.Tasks)
	return &dup
}
