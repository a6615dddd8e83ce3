package assignment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/store"
)

// appendHistory records a task visit on the user's history, creating the
// history lazily on the first visit.
func (s *serviceImpl) appendHistory(ctx context.Context, userID string, task *domain.Task) error {
	history, err := s.histories.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrHistoryNotFound) {
			return err
		}
		history, err = domain.NewUserHistory(userID)
		if err != nil {
			return err
		}
	}

	history.Append(domain.HistoryEntry{
		TaskID:    task.ID,
		Source:    task.Source,
		VisitedAt: s.now(),
	})

	return s.histories.Save(ctx, history)
}

// purgeHistories removes the given task ids from every user history that
// references them, clamping each cursor. A task can sit in several users'
// histories after a release-and-reassignment cycle, so the purge is
// never scoped to the last holder. It runs on the transactional history
// view of the sweep, so a partial purge never commits.
func (s *serviceImpl) purgeHistories(
	ctx context.Context,
	histories store.HistoryStore,
	taskIDs []uuid.UUID,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	referencing, err := histories.ListReferencing(ctx, taskIDs)
	if err != nil {
		return err
	}

	for _, history := range referencing {
		removed := history.RemoveTasks(taskIDs)
		if removed == 0 {
			continue
		}
		if err := histories.Save(ctx, history); err != nil {
			return err
		}
		log.Debug("purged expired tasks from history",
			slog.String("user_id", history.UserID),
			slog.Int("removed", removed),
			slog.Int("cursor", history.Cursor))
	}

	return nil
}

// StepBack implements Service.StepBack.
func (s *serviceImpl) StepBack(ctx context.Context, userID string) (*domain.HistoryEntry, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	history, err := s.histories.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrHistoryNotFound) {
			return nil, ErrHistoryBoundary
		}
		return nil, newServiceError("step_back", "history lookup failed", err)
	}

	entry, ok := history.StepBack()
	if err := s.histories.Save(ctx, history); err != nil {
		return nil, newServiceError("step_back", "history save failed", err)
	}
	if !ok {
		return nil, ErrHistoryBoundary
	}
	return &entry, nil
}

// StepForward implements Service.StepForward.
func (s *serviceImpl) StepForward(ctx context.Context, userID string) (*domain.HistoryEntry, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}

	history, err := s.histories.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrHistoryNotFound) {
			return nil, ErrHistoryBoundary
		}
		return nil, newServiceError("step_forward", "history lookup failed", err)
	}

	entry, ok := history.StepForward()
	if !ok {
		return nil, ErrHistoryBoundary
	}
	if err := s.histories.Save(ctx, history); err != nil {
		return nil, newServiceError("step_forward", "history save failed", err)
	}
	return &entry, nil
}

// History implements Service.History.
func (s *serviceImpl) History(ctx context.Context, userID string) ([]domain.HistoryEntry, int, error) {
	if userID == "" {
		return nil, -1, ErrInvalidUser
	}

	history, err := s.histories.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrHistoryNotFound) {
			return []domain.HistoryEntry{}, -1, nil
		}
		return nil, -1, newServiceError("history", "history lookup failed", err)
	}

	return history.Tasks, history.Cursor, nil
}
