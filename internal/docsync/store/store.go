// Package store defines the narrow capabilities the sync engine consumes.
//
// Concrete backends live in subpackages (memory, sqlite, bolt, qdrant,
// neo4jgraph, redislock). The engine depends only on these interfaces, so any
// backend can be swapped without touching the sync logic.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// ErrLockTimeout is returned by Locker.Acquire when the lock could not be
// obtained within the requested timeout.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// ErrLockNotHeld is returned by Locker.Release when the handle no longer
// owns the lock (it expired or was stolen after expiry).
var ErrLockNotHeld = errors.New("lock not held")

// Embedder turns text into a vector.
//
// Implementations mark retryable failures with retry.Transient. Any other
// error is treated as terminal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore holds one vector entry per document.
type VectorStore interface {
	// Upsert inserts or replaces the vector entry keyed by id and returns
	// the point id the store assigned. Calling it twice with the same id
	// replaces the prior vector and payload.
	//
	// Example:
	//   pointID, err := vs.Upsert(ctx, "doc1", vec, map[string]any{"content_hash": h})
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) (string, error)

	// Delete removes the entry for id. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id string) error
}

// GraphStore holds one node per document plus its outgoing edges.
type GraphStore interface {
	// UpsertNode inserts or replaces the node keyed by id and returns the
	// store's node id.
	UpsertNode(ctx context.Context, id string, props map[string]any) (string, error)

	// UpsertEdges replaces the full set of outgoing edges of node id.
	// Edges not present in the slice are removed.
	UpsertEdges(ctx context.Context, id string, edges []schema.Edge) error

	// DeleteNode removes the node and its outgoing edges. Deleting a
	// missing node is not an error.
	DeleteNode(ctx context.Context, id string) error
}

// RecordStore persists SyncRecords. Put must be atomic per key.
type RecordStore interface {
	// Get returns the record for id, or (nil, nil) if none exists.
	Get(ctx context.Context, id string) (*schema.SyncRecord, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, rec schema.SyncRecord) error

	// Delete removes the record for id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every record ordered by document id.
	List(ctx context.Context) ([]schema.SyncRecord, error)
}

// LockHandle identifies one successful acquisition.
type LockHandle struct {
	Key   string
	Token string
}

// Locker provides externally visible per-key mutual exclusion.
type Locker interface {
	// Acquire blocks until key is locked, timeout elapses (ErrLockTimeout)
	// or ctx ends.
	//
	// Example:
	//   h, err := locker.Acquire(ctx, "doc:doc1", 10*time.Second)
	//   if err != nil {
	//       return err
	//   }
	//   defer locker.Release(context.Background(), h)
	Acquire(ctx context.Context, key string, timeout time.Duration) (LockHandle, error)

	// Release unlocks the key if h still owns it.
	Release(ctx context.Context, h LockHandle) error
}

// LeaseRenewer is implemented by lockers whose locks expire. The
// coordinator renews a held lease while it works and confirms ownership
// before committing a record.
type LeaseRenewer interface {
	// Renew extends the lease of h by its TTL. It returns ErrLockNotHeld
	// when h no longer owns the key.
	Renew(ctx context.Context, h LockHandle) error

	// LeaseTTL is the lease duration granted by Acquire and Renew.
	LeaseTTL() time.Duration
}

// LockKey returns the lock key used for a document id.
func LockKey(docID string) string {
	return "dsync:doc:" + docID
}
