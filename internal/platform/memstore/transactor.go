package memstore

import (
	"context"
	"sync"

	"github.com/labelq/labelq-api/internal/store"
)

// Transactor implements store.Transactor for the in-memory backend by
// snapshotting all three stores before running the function and
// restoring the snapshots when it fails. Atomic blocks are serialized
// against each other; a rollback restores the snapshot wholesale, so
// non-atomic writers must not race a failing atomic block. The engine
// only needs this for the expiry sweep and the release path, both of
// which tolerate that constraint.
type Transactor struct {
	mu        sync.Mutex
	tasks     *TaskStore
	leases    *LeaseStore
	histories *HistoryStore
}

// NewTransactor creates a Transactor over the given in-memory stores.
func NewTransactor(tasks *TaskStore, leases *LeaseStore, histories *HistoryStore) *Transactor {
	if tasks == nil {
		panic("tasks store cannot be nil")
	}
	if leases == nil {
		panic("leases store cannot be nil")
	}
	if histories == nil {
		panic("histories store cannot be nil")
	}

	return &Transactor{
		tasks:     tasks,
		leases:    leases,
		histories: histories,
	}
}

// Ensure Transactor implements store.Transactor interface
var _ store.Transactor = (*Transactor)(nil)

// Atomic implements store.Transactor.Atomic
func (t *Transactor) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, s store.Stores) error,
) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	taskSnap := t.tasks.snapshot()
	leaseSnap := t.leases.snapshot()
	historySnap := t.histories.snapshot()

	err := fn(ctx, store.Stores{
		Tasks:     t.tasks,
		Leases:    t.leases,
		Histories: t.histories,
	})
	if err != nil {
		t.tasks.restore(taskSnap)
		t.leases.restore(leaseSnap)
		t.histories.restore(historySnap)
	}
	return err
}
