package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LockManager = (*LeaseRepo)(nil)

// LeaseRepo is the SQLite implementation of the LockManager port. A lease is
// a row keyed by lock key with a fencing token and an expiry; acquisition
// takes over expired rows atomically on the single writer connection.
type LeaseRepo struct {
	db           *DB
	pollInterval time.Duration
}

// NewLeaseRepo creates a new LeaseRepo backed by the given DB.
func NewLeaseRepo(db *DB) *LeaseRepo {
	return &LeaseRepo{db: db, pollInterval: 100 * time.Millisecond}
}

// Acquire obtains the lease for key, waiting up to blockingTimeout for a busy
// lock. A lease held past leaseTimeout by a crashed worker is taken over.
func (r *LeaseRepo) Acquire(ctx context.Context, key string, leaseTimeout, blockingTimeout time.Duration) (driven.Lease, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(blockingTimeout)

	for {
		expiresAt, acquired, err := r.tryAcquire(ctx, key, token, leaseTimeout)
		if err != nil {
			return nil, err
		}
		if acquired {
			return &lease{repo: r, key: key, token: token, expiresAt: expiresAt}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", driven.ErrLockBusy, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *LeaseRepo) tryAcquire(ctx context.Context, key, token string, leaseTimeout time.Duration) (time.Time, bool, error) {
	now := time.Now()
	expiresAt := now.Add(leaseTimeout)

	const query = `
		INSERT INTO leases (lock_key, token, expires_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(lock_key) DO UPDATE SET
			token = excluded.token,
			expires_at_ms = excluded.expires_at_ms
		WHERE leases.expires_at_ms <= ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		key, token, expiresAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("check rows affected: %w", err)
	}
	return expiresAt, rows > 0, nil
}

// release deletes the lease only while the token still owns it, so releasing
// twice or after a takeover is a no-op.
func (r *LeaseRepo) release(ctx context.Context, key, token string) error {
	const query = `DELETE FROM leases WHERE lock_key = ? AND token = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, key, token); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// lease is the scoped mutual-exclusion grant handed to callers.
type lease struct {
	repo      *LeaseRepo
	key       string
	token     string
	expiresAt time.Time
}

func (l *lease) Key() string          { return l.key }
func (l *lease) ExpiresAt() time.Time { return l.expiresAt }

// Release is idempotent and safe after expiry.
func (l *lease) Release(ctx context.Context) error {
	return l.repo.release(ctx, l.key, l.token)
}
