package memstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labelq/labelq-api/internal/domain"
	"github.com/labelq/labelq-api/internal/store"
)

// LeaseStore is a mutex-guarded in-memory implementation of store.LeaseStore.
// The map key is the task ID, which gives the same uniqueness guarantee the
// postgres primary key provides; the check-and-replace in Acquire happens
// entirely under the mutex, so it is atomic with respect to other acquirers.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[uuid.UUID]*domain.Lease

	// Now is the time source for lease acquisition. Tests override it so
	// the store and the service share one controllable clock.
	Now func() time.Time
}

// NewLeaseStore creates an empty in-memory lease store.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		leases: make(map[uuid.UUID]*domain.Lease),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ensure LeaseStore implements store.LeaseStore interface
var _ store.LeaseStore = (*LeaseStore)(nil)

// Acquire implements store.LeaseStore.Acquire
func (s *LeaseStore) Acquire(
	ctx context.Context,
	taskID uuid.UUID,
	userID string,
	ttl time.Duration,
) (bool, error) {
	lease, err := domain.NewLease(taskID, userID, s.Now(), ttl)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, held := s.leases[taskID]
	if held && !existing.Expired(lease.AcquiredAt) {
		return false, nil
	}

	s.leases[taskID] = lease
	return true, nil
}

// Release implements store.LeaseStore.Release
func (s *LeaseStore) Release(ctx context.Context, taskID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, held := s.leases[taskID]
	if !held || lease.HolderUser != userID {
		return false, nil
	}

	delete(s.leases, taskID)
	return true, nil
}

// GetByTaskID implements store.LeaseStore.GetByTaskID
func (s *LeaseStore) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease, held := s.leases[taskID]
	if !held {
		return nil, store.ErrLeaseNotFound
	}

	dup := *lease
	return &dup, nil
}

// SweepExpired implements store.LeaseStore.SweepExpired
func (s *LeaseStore) SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var taskIDs []uuid.UUID
	for taskID, lease := range s.leases {
		if lease.Expired(now) {
			taskIDs = append(taskIDs, taskID)
			delete(s.leases, taskID)
		}
	}
	return taskIDs, nil
}

// WithTx implements store.LeaseStore.WithTx
func (s *LeaseStore) WithTx(tx *sql.Tx) store.LeaseStore {
	return s
}

func (s *LeaseStore) snapshot() map[uuid.UUID]*domain.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	leases := make(map[uuid.UUID]*domain.Lease, len(s.leases))
	for taskID, lease := range s.leases {
		dup := *lease
		leases[taskID] = &dup
	}
	return leases
}

func (s *LeaseStore) restore(snap map[uuid.UUID]*domain.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leases = snap
}
