package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/dualsync/internal/docsync/store"
)

// DefaultLeaseTTL is how long an unrenewed lock stays valid. Holders renew
// while they work, so a crashed holder blocks the document for at most
// this long.
const DefaultLeaseTTL = 2 * time.Minute

const lockPollInterval = 25 * time.Millisecond

// Locker implements store.Locker with leases in the doc_locks table.
// Processes sharing the database file share the locks.
type Locker struct {
	db    *DB
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// Locker returns a locker identified by owner (hostname:pid when empty).
// ttl <= 0 uses DefaultLeaseTTL.
func (db *DB) Locker(owner string, ttl time.Duration) *Locker {
	if owner == "" {
		host, _ := os.Hostname()
		owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Locker{db: db, owner: owner, ttl: ttl, now: time.Now}
}

// Acquire implements store.Locker. It polls until the lease is free or
// expired, timeout elapses, or ctx ends.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (store.LockHandle, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.tryAcquire(ctx, key, token)
		if err != nil {
			return store.LockHandle{}, err
		}
		if ok {
			return store.LockHandle{Key: key, Token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return store.LockHandle{}, fmt.Errorf("%w: %s after %v", store.ErrLockTimeout, key, timeout)
		}

		select {
		case <-ctx.Done():
			return store.LockHandle{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tryAcquire inserts the lease, or takes it over if the current one expired.
func (l *Locker) tryAcquire(ctx context.Context, key, token string) (bool, error) {
	now := l.now()
	query := `
		INSERT INTO doc_locks (key, token, owner, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			token = excluded.token,
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE doc_locks.expires_at <= ?
	`
	res, err := l.db.conn.ExecContext(ctx, query, key, token, l.owner, now.Add(l.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return n == 1, nil
}

// Release implements store.Locker.
func (l *Locker) Release(ctx context.Context, h store.LockHandle) error {
	res, err := l.db.conn.ExecContext(ctx, "DELETE FROM doc_locks WHERE key = ? AND token = ?", h.Key, h.Token)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

// Renew implements store.LeaseRenewer. An expired lease cannot be renewed
// even if nobody took it over yet.
func (l *Locker) Renew(ctx context.Context, h store.LockHandle) error {
	now := l.now()
	res, err := l.db.conn.ExecContext(ctx,
		"UPDATE doc_locks SET expires_at = ? WHERE key = ? AND token = ? AND expires_at > ?",
		now.Add(l.ttl).UnixMilli(), h.Key, h.Token, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	if n == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

// LeaseTTL implements store.LeaseRenewer.
func (l *Locker) LeaseTTL() time.Duration { return l.ttl }

// Holder returns the owner of key's current lease, or "" if it is free.
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	var owner string
	err := l.db.conn.QueryRowContext(ctx,
		"SELECT owner FROM doc_locks WHERE key = ? AND expires_at > ?", key, l.now().UnixMilli()).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query lock holder: %w", err)
	}
	return owner, nil
}
