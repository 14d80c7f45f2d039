package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/store"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

var errLeaseLost = errors.New("lease lost")

// lease is a held document lock. When the locker's leases expire it is
// renewed in the background at a third of the TTL; losing it cancels ctx.
type lease struct {
	c       *Coordinator
	docID   string
	handle  store.LockHandle
	renewer store.LeaseRenewer

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   chan struct{}
	done   chan struct{}
}

// lock acquires the document lock. Work done while holding it must use
// l.ctx, which ends when the lease is lost.
func (c *Coordinator) lock(ctx context.Context, docID string) (*lease, error) {
	h, err := c.stores.Locker.Acquire(ctx, store.LockKey(docID), c.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			return nil, syncerr.New(syncerr.LockTimeout, docID, "lock", err)
		}
		return nil, syncerr.Classify(ctx, syncerr.LockTimeout, docID, "lock", err)
	}

	lctx, cancel := context.WithCancelCause(ctx)
	l := &lease{c: c, docID: docID, handle: h, ctx: lctx, cancel: cancel}
	if r, ok := c.stores.Locker.(store.LeaseRenewer); ok && r.LeaseTTL() > 0 {
		l.renewer = r
		l.stop = make(chan struct{})
		l.done = make(chan struct{})
		go l.keepAlive(max(r.LeaseTTL()/3, time.Millisecond))
	}
	return l, nil
}

func (l *lease) keepAlive(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			err := l.renewer.Renew(l.ctx, l.handle)
			if errors.Is(err, store.ErrLockNotHeld) {
				l.c.logger.Printf("WARNING: lost lock for doc %s", l.docID)
				l.cancel(errLeaseLost)
				return
			}
			if err != nil && l.ctx.Err() == nil {
				l.c.logger.Printf("WARNING: failed to renew lock for doc %s: %v", l.docID, err)
			}
		}
	}
}

// lost reports whether the lease was lost while held.
func (l *lease) lost() bool {
	return errors.Is(context.Cause(l.ctx), errLeaseLost)
}

// confirm renews the lease once and fails unless it is still held. It is
// the last step before a record is committed.
func (l *lease) confirm() error {
	if l.lost() {
		return syncerr.New(syncerr.LockLost, l.docID, "lease", errLeaseLost)
	}
	if l.renewer == nil {
		return nil
	}
	if err := l.renewer.Renew(l.ctx, l.handle); err != nil {
		if errors.Is(err, store.ErrLockNotHeld) {
			l.cancel(errLeaseLost)
			return syncerr.New(syncerr.LockLost, l.docID, "lease", err)
		}
		return syncerr.Classify(l.ctx, syncerr.LockLost, l.docID, "lease", err)
	}
	return nil
}

// release stops renewal and unlocks on a detached context so it happens
// even after the caller's ctx ended.
func (l *lease) release() {
	if l.stop != nil {
		close(l.stop)
		<-l.done
	}
	l.cancel(nil)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), releaseTimeout)
	defer cancel()
	if err := l.c.stores.Locker.Release(rctx, l.handle); err != nil {
		l.c.logger.Printf("WARNING: failed to release lock for doc %s: %v", l.docID, err)
	}
}

// failure rewrites err as LockLost when the lease was lost; cancellation
// caused by the loss would otherwise surface as Cancelled.
func (l *lease) failure(err error) error {
	if l != nil && l.lost() && !syncerr.Is(err, syncerr.LockLost) {
		return syncerr.New(syncerr.LockLost, l.docID, "lease", err)
	}
	return err
}
