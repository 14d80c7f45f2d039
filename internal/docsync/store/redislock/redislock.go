// Package redislock implements store.Locker with Redis leases, so agents
// on different hosts exclude each other per document.
//
// A lock is a key set with NX and a TTL whose value is the holder's token.
// Release deletes the key only while it still carries that token.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mschirtzinger/dualsync/internal/docsync/store"
)

// DefaultLeaseTTL bounds how long a crashed holder can block a document.
const DefaultLeaseTTL = 2 * time.Minute

const pollInterval = 25 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Locker is a Redis-backed store.Locker.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New wraps a client. ttl <= 0 uses DefaultLeaseTTL.
func New(client redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Locker{client: client, ttl: ttl}
}

// Dial connects to the Redis server at addr and pings it.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Locker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return New(client, ttl), nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (store.LockHandle, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return store.LockHandle{}, ctx.Err()
			}
			return store.LockHandle{}, fmt.Errorf("failed to acquire %s: %w", key, err)
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

// Release implements store.Locker.
func (l *Locker) Release(ctx context.Context, h store.LockHandle) error {
	n, err := releaseScript.Run(ctx, l.client, []string{h.Key}, h.Token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release %s: %w", h.Key, err)
	}
	if n == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

// Renew implements store.LeaseRenewer.
func (l *Locker) Renew(ctx context.Context, h store.LockHandle) error {
	n, err := renewScript.Run(ctx, l.client, []string{h.Key}, h.Token, l.ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to renew %s: %w", h.Key, err)
	}
	if n == 0 {
		return store.ErrLockNotHeld
	}
	return nil
}

// LeaseTTL implements store.LeaseRenewer.
func (l *Locker) LeaseTTL() time.Duration { return l.ttl }

// Holder returns the token currently holding key, or "" if it is free.
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	token, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}
