package driven

import (
	"context"
	"errors"
	"time"
)

// ErrLockBusy means another worker holds the lock and the blocking timeout
// elapsed. The caller must not proceed and must not spin on Acquire; the
// correct reaction is to reschedule the whole unit of work.
var ErrLockBusy = errors.New("lock: busy")

// Lease is a time-bounded mutual-exclusion grant. Release is idempotent and
// safe to call after the lease expired; releasing a lease taken over by
// another holder is a no-op.
type Lease interface {
	Key() string
	ExpiresAt() time.Time
	Release(ctx context.Context) error
}

// LockManager is the distributed exclusivity lock port. leaseTimeout bounds
// how long a crashed holder can block others; blockingTimeout bounds how long
// Acquire waits for a busy lock before returning ErrLockBusy.
type LockManager interface {
	Acquire(ctx context.Context, key string, leaseTimeout, blockingTimeout time.Duration) (Lease, error)
}
