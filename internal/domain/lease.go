package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Lease-specific validation errors
var (
	// ErrLeaseTaskIDEmpty is returned when a lease's task ID is empty or nil.
	ErrLeaseTaskIDEmpty = errors.New("lease task ID cannot be empty")

	// ErrLeaseHolderEmpty is returned when a lease's holder user is empty.
	ErrLeaseHolderEmpty = errors.New("lease holder cannot be empty")

	// ErrLeaseTTLInvalid is returned when a lease's expiry does not lie
	// strictly after its acquisition time.
	ErrLeaseTTLInvalid = errors.New("lease TTL must be positive")
)

// Lease is a time-bounded exclusivity record binding one task to one user.
// At most one live lease exists per task; the store enforces the uniqueness.
// A Lease's existence is the single source of truth for exclusivity.
type Lease struct {
	TaskID     uuid.UUID `json:"task_id"`
	HolderUser string    `json:"holder_user"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewLease creates a Lease for taskID held by holderUser, expiring ttl after now.
// Returns an error if validation fails.
func NewLease(taskID uuid.UUID, holderUser string, now time.Time, ttl time.Duration) (*Lease, error) {
	lease := &Lease{
		TaskID:     taskID,
		HolderUser: holderUser,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := lease.Validate(); err != nil {
		return nil, err
	}

	return lease, nil
}

// Validate checks if the Lease has valid data.
func (l *Lease) Validate() error {
	if l.TaskID == uuid.Nil {
		return ErrLeaseTaskIDEmpty
	}

	if l.HolderUser == "" {
		return ErrLeaseHolderEmpty
	}

	if !l.ExpiresAt.After(l.AcquiredAt) {
		return ErrLeaseTTLInvalid
	}

	return nil
}

// Expired reports whether the lease's expiry has passed at the given instant.
func (l *Lease) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}
