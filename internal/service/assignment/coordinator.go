package assignment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/platform/logger"
	"github.com/labelq/labelq-api/internal/platform/metrics"
	"github.com/labelq/labelq-api/internal/store"
)

// Verify interface compliance at compile time
var _ Service = (*serviceImpl)(nil)

const (
	defaultLeaseTTL     = 5 * time.Minute
	defaultScanPageSize = 50
)

// Config carries the tunables of the assignment engine.
type Config struct {
	// Transactor runs compound mutations (lease sweep plus task reset
	// plus history purge) all-or-nothing. Required.
	Transactor store.Transactor
	// LeaseTTL is how long an unreleased lease lives before the sweep
	// may reclaim it. Defaults to 5 minutes.
	LeaseTTL time.Duration
	// ScanPageSize is the keyset page size of the pending-task scan.
	// Defaults to 50.
	ScanPageSize int
	// Metrics receives engine counters. May be nil.
	Metrics *metrics.Registry
	// Clock overrides the time source; tests use it to force expiry.
	// Defaults to time.Now in UTC.
	Clock func() time.Time
}

// serviceImpl implements the Service interface.
type serviceImpl struct {
	tasks     store.TaskStore
	leases    store.LeaseStore
	histories store.HistoryStore
	txn       store.Transactor
	ttl       time.Duration
	pageSize  int
	metrics   *metrics.Registry
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a new assignment Service implementation.
func NewService(
	tasks store.TaskStore,
	leases store.LeaseStore,
	histories store.HistoryStore,
	cfg Config,
	log *slog.Logger,
) Service {
	if tasks == nil {
		panic("tasks store cannot be nil")
	}
	if leases == nil {
		panic("leases store cannot be nil")
	}
	if histories == nil {
		panic("histories store cannot be nil")
	}
	if cfg.Transactor == nil {
		panic("transactor cannot be nil")
	}

	if log == nil {
		log = slog.Default()
	}

	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	pageSize := cfg.ScanPageSize
	if pageSize <= 0 {
		pageSize = defaultScanPageSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &serviceImpl{
		tasks:     tasks,
		leases:    leases,
		histories: histories,
		txn:       cfg.Transactor,
		ttl:       ttl,
		pageSize:  pageSize,
		metrics:   cfg.Metrics,
		now:       clock,
		logger:    log.With(slog.String("component", "assignment_service")),
	}
}

// AssignNext implements Service.AssignNext.
//
// Per-candidate order is acquire-then-transition: the lease is the source
// of truth, and the status flip only happens under it. A transition that
// does not apply means the task moved outside the lease layer (e.g. a
// racing completion), so the fresh lease is handed back and the scan
// moves on. Any store error aborts the scan.
func (s *serviceImpl) AssignNext(ctx context.Context, userID string) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if userID == "" {
		return nil, ErrInvalidUser
	}

	if err := s.reconcileExpired(ctx); err != nil {
		return nil, newServiceError("assign_next", "expiry sweep failed", err)
	}

	afterSeq := int64(0)
	for {
		page, err := s.tasks.FindPending(ctx, afterSeq, s.pageSize)
		if err != nil {
			log.Error("pending scan failed",
				slog.String("error", err.Error()),
				slog.String("user_id", userID))
			return nil, newServiceError("assign_next", "pending scan failed", err)
		}
		if len(page) == 0 {
			log.Debug("no pending tasks available", slog.String("user_id", userID))
			return nil, ErrNoTasksAvailable
		}

		for _, candidate := range page {
			afterSeq = candidate.Seq

			acquired, err := s.leases.Acquire(ctx, candidate.ID, userID, s.ttl)
			if err != nil {
				return nil, newServiceError("assign_next", "lease acquisition failed", err)
			}
			if !acquired {
				s.metrics.IncLeaseContention()
				continue
			}

			now := s.now()
			applied, err := s.tasks.Transition(
				ctx,
				candidate.ID,
				[]domain.TaskStatus{domain.TaskStatusPending},
				domain.TaskStatusAnnotating,
				store.TransitionFields{
					AssignedUser: &userID,
					AssignedAt:   &now,
				},
			)
			if err != nil {
				// Hand the lease back before surfacing; otherwise the
				// task stays blocked until the TTL runs out.
				if _, relErr := s.leases.Release(ctx, candidate.ID, userID); relErr != nil {
					log.Error("failed to release lease after transition error",
						slog.String("error", relErr.Error()),
						slog.String("task_id", candidate.ID.String()))
				}
				return nil, newServiceError("assign_next", "task transition failed", err)
			}
			if !applied {
				if _, relErr := s.leases.Release(ctx, candidate.ID, userID); relErr != nil {
					return nil, newServiceError("assign_next", "lease release after lost race failed", relErr)
				}
				log.Debug("task claimed by racing transition, trying next candidate",
					slog.String("task_id", candidate.ID.String()),
					slog.String("user_id", userID))
				continue
			}

			s.metrics.IncLeasesAcquired()

			task, err := s.tasks.GetByID(ctx, candidate.ID)
			if err != nil {
				return nil, newServiceError("assign_next", "failed to reload assigned task", err)
			}

			if err := s.appendHistory(ctx, userID, task); err != nil {
				return nil, newServiceError("assign_next", "failed to record history", err)
			}

			log.Info("task assigned",
				slog.String("task_id", task.ID.String()),
				slog.String("user_id", userID),
				slog.Int64("seq", task.Seq))
			return task, nil
		}
	}
}

// Release implements Service.Release.
func (s *serviceImpl) Release(ctx context.Context, taskID uuid.UUID, userID string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if userID == "" {
		return ErrInvalidUser
	}

	if err := s.reconcileExpired(ctx); err != nil {
		return newServiceError("release", "expiry sweep failed", err)
	}

	// The lease delete and the task reset land together; a failure
	// between them must not leave an annotating task with no lease.
	err := s.txn.Atomic(ctx, func(ctx context.Context, st store.Stores) error {
		released, err := st.Leases.Release(ctx, taskID, userID)
		if err != nil {
			return newServiceError("release", "lease release failed", err)
		}
		if !released {
			log.Debug("release refused, lease not held by caller",
				slog.String("task_id", taskID.String()),
				slog.String("user_id", userID))
			return ErrNotHeld
		}

		applied, err := st.Tasks.Transition(
			ctx,
			taskID,
			[]domain.TaskStatus{domain.TaskStatusAnnotating},
			domain.TaskStatusPending,
			store.TransitionFields{},
		)
		if err != nil {
			return newServiceError("release", "task reset failed", err)
		}
		if !applied {
			// The lease was ours but the task had already left annotating;
			// nothing to repair, the lease is gone either way.
			log.Warn("released task was not annotating",
				slog.String("task_id", taskID.String()),
				slog.String("user_id", userID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncLeasesReleased()
	log.Info("task released back to backlog",
		slog.String("task_id", taskID.String()),
		slog.String("user_id", userID))
	return nil
}

// Complete implements Service.Complete.
//
// Exactly one of two racing completers succeeds: the loser either finds
// the lease already gone (released by the winner) or finds the task no
// longer annotating, and gets ErrLeaseMismatch in both cases.
func (s *serviceImpl) Complete(
	ctx context.Context,
	taskID uuid.UUID,
	userID string,
	annotations map[string]float64,
	editedText string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if userID == "" {
		return ErrInvalidUser
	}

	if err := s.reconcileExpired(ctx); err != nil {
		return newServiceError("complete", "expiry sweep failed", err)
	}

	lease, err := s.leases.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrLeaseNotFound) {
			log.Debug("completion refused, no lease on task",
				slog.String("task_id", taskID.String()),
				slog.String("user_id", userID))
			return ErrLeaseMismatch
		}
		return newServiceError("complete", "lease lookup failed", err)
	}
	if lease.HolderUser != userID {
		log.Warn("completion refused, lease held by another user",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID),
			slog.String("holder", lease.HolderUser))
		return ErrLeaseMismatch
	}

	applied, err := s.tasks.Transition(
		ctx,
		taskID,
		[]domain.TaskStatus{domain.TaskStatusAnnotating},
		domain.TaskStatusAnnotated,
		store.TransitionFields{
			Annotations:   annotations,
			EditedText:    &editedText,
			LastUpdatedBy: &userID,
		},
	)
	if err != nil {
		return newServiceError("complete", "task transition failed", err)
	}
	if !applied {
		log.Debug("completion lost the race, task no longer annotating",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID))
		return ErrLeaseMismatch
	}

	if _, err := s.leases.Release(ctx, taskID, userID); err != nil {
		return newServiceError("complete", "lease release failed", err)
	}

	s.metrics.IncTasksCompleted()
	log.Info("task completed",
		slog.String("task_id", taskID.String()),
		slog.String("user_id", userID))
	return nil
}

// DirectUpdate implements Service.DirectUpdate.
//
// The store refuses the write in the same statement that checks the
// status, so an assignment racing in between cannot slip a lease-free
// edit onto a freshly leased task.
func (s *serviceImpl) DirectUpdate(
	ctx context.Context,
	taskID uuid.UUID,
	annotations map[string]float64,
	editedText string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := s.tasks.Update(ctx, taskID, annotations, editedText); err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			return ErrTaskNotFound
		case errors.Is(err, store.ErrTaskLocked):
			log.Debug("direct update refused, task under lease",
				slog.String("task_id", taskID.String()))
			return ErrTaskLocked
		}
		return newServiceError("direct_update", "task update failed", err)
	}

	log.Info("task updated directly", slog.String("task_id", taskID.String()))
	return nil
}

// GetTask implements Service.GetTask.
func (s *serviceImpl) GetTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, newServiceError("get_task", "task lookup failed", err)
	}
	return task, nil
}

// Stats implements Service.Stats.
func (s *serviceImpl) Stats(ctx context.Context) (map[domain.TaskStatus]int, error) {
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, newServiceError("stats", "status count failed", err)
	}
	return counts, nil
}

// reconcileExpired is the lazy cleanup run at the start of every
// read-path call: sweep expired leases, reset their tasks to pending
// (unless a completion raced past expiry), and purge the expired tasks
// from every user history that references them. The whole sweep is one
// atomic unit; a failure after the lease delete rolls the delete back,
// so a reclaimed task can never be stranded annotating with no lease.
func (s *serviceImpl) reconcileExpired(ctx context.Context) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var reclaimed int
	err := s.txn.Atomic(ctx, func(ctx context.Context, st store.Stores) error {
		expired, err := st.Leases.SweepExpired(ctx, s.now())
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		log.Info("reclaiming expired leases", slog.Int("count", len(expired)))

		for _, taskID := range expired {
			// Only an annotating task is reset; an annotated one finished in
			// a race with expiry and must not be clobbered back to pending.
			applied, err := st.Tasks.Transition(
				ctx,
				taskID,
				[]domain.TaskStatus{domain.TaskStatusAnnotating},
				domain.TaskStatusPending,
				store.TransitionFields{},
			)
			if err != nil {
				return err
			}
			if applied {
				log.Debug("expired task returned to backlog",
					slog.String("task_id", taskID.String()))
			}
		}

		if err := s.purgeHistories(ctx, st.Histories, expired); err != nil {
			return err
		}

		reclaimed = len(expired)
		return nil
	})
	if err != nil {
		return err
	}

	// Counted after commit so a rolled-back sweep does not tick it.
	s.metrics.AddLeasesExpired(reclaimed)
	return nil
}
