package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/dualsync/internal/docsync/store"
)

// Locker is a process-local store.Locker. Share one instance between
// coordinators to simulate independent agents contending on one backend.
type Locker struct {
	mu     sync.Mutex
	slots  map[string]chan struct{}
	owners map[string]string
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{
		slots:  make(map[string]chan struct{}),
		owners: make(map[string]string),
	}
}

func (l *Locker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (store.LockHandle, error) {
	ch := l.slot(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return store.LockHandle{}, fmt.Errorf("%w: %s after %v", store.ErrLockTimeout, key, timeout)
	case <-ctx.Done():
		return store.LockHandle{}, ctx.Err()
	}

	h := store.LockHandle{Key: key, Token: uuid.NewString()}
	l.mu.Lock()
	l.owners[key] = h.Token
	l.mu.Unlock()
	return h, nil
}

// Release implements store.Locker.
func (l *Locker) Release(ctx context.Context, h store.LockHandle) error {
	l.mu.Lock()
	if l.owners[h.Key] != h.Token || h.Token == "" {
		l.mu.Unlock()
		return store.ErrLockNotHeld
	}
	delete(l.owners, h.Key)
	ch := l.slots[h.Key]
	l.mu.Unlock()

	<-ch
	return nil
}

// Held reports whether key is currently locked.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.owners[key]
	return ok
}
