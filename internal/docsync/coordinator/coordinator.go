package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/dualsync/internal/docsync/contenthash"
	"github.com/mschirtzinger/dualsync/internal/docsync/detect"
	"github.com/mschirtzinger/dualsync/internal/docsync/embed"
	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
	"github.com/mschirtzinger/dualsync/internal/docsync/writer"
)

// ErrNilBatch is returned when a batch entry point receives a nil slice.
var ErrNilBatch = errors.New("document batch is nil")

// releaseTimeout bounds lock release, which runs on a context detached
// from the batch so that cancellation cannot strand a lock.
const releaseTimeout = 5 * time.Second

// Config holds coordinator tunables.
type Config struct {
	// Concurrency is the number of documents processed at once (default: 4).
	Concurrency int

	// LockTimeout bounds the wait for a document lock (default: 10s).
	LockTimeout time.Duration

	// EmbedConcurrency bounds in-flight embedding calls (default: 2).
	EmbedConcurrency int

	// Retry is shared by the embedding gate and the store writer.
	Retry retry.Policy

	// VolatileKeys are metadata keys excluded from the content hash
	// (default: contenthash.DefaultVolatileKeys).
	VolatileKeys []string

	// EdgeKeys are metadata keys that imply graph edges
	// (default: schema.DefaultEdgeKeys).
	EdgeKeys []string

	// Logger for batch progress and warnings. Nil logs to stderr.
	Logger *log.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Observer, when set, receives every state transition. It is called
	// from worker goroutines and must be safe for concurrent use.
	Observer func(Transition)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		LockTimeout:      10 * time.Second,
		EmbedConcurrency: 2,
		Retry:            retry.DefaultPolicy(),
	}
}

// Stores bundles the collaborators a coordinator drives.
type Stores struct {
	Embedder store.Embedder
	Vectors  store.VectorStore
	Graph    store.GraphStore
	Records  store.RecordStore
	Locker   store.Locker
}

func (s Stores) validate() error {
	switch {
	case s.Embedder == nil:
		return fmt.Errorf("embedder is required")
	case s.Vectors == nil:
		return fmt.Errorf("vector store is required")
	case s.Graph == nil:
		return fmt.Errorf("graph store is required")
	case s.Records == nil:
		return fmt.Errorf("record store is required")
	case s.Locker == nil:
		return fmt.Errorf("locker is required")
	}
	return nil
}

// Coordinator is the sync engine. It holds no per-document state between
// calls and is safe for concurrent use; mutual exclusion between calls
// (and between processes) comes from the Locker.
type Coordinator struct {
	cfg      Config
	stores   Stores
	detector *detect.Detector
	gate     *embed.Gate
	writer   *writer.Writer
	logger   *log.Logger
	counters counters
}

// New creates a Coordinator. Zero-valued Config fields take their
// DefaultConfig values.
func New(stores Stores, cfg Config) (*Coordinator, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = def.EmbedConcurrency
	}
	if cfg.Retry.MaxAttempts <= 0 {
		sleep, rnd := cfg.Retry.Sleep, cfg.Retry.Rand
		cfg.Retry = def.Retry
		cfg.Retry.Sleep, cfg.Retry.Rand = sleep, rnd
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	hasher := contenthash.New(cfg.VolatileKeys)
	return &Coordinator{
		cfg:      cfg,
		stores:   stores,
		detector: detect.NewDetector(hasher),
		gate:     embed.NewGate(stores.Embedder, cfg.EmbedConcurrency, cfg.Retry, cfg.Logger),
		writer: writer.New(stores.Vectors, stores.Graph, writer.Config{
			Retry:    cfg.Retry,
			EdgeKeys: cfg.EdgeKeys,
			Hasher:   hasher,
			Logger:   cfg.Logger,
		}),
		logger: cfg.Logger,
	}, nil
}

func (c *Coordinator) now() time.Time {
	return c.cfg.Now()
}

// SyncBatch synchronizes docs and returns one result per document, in
// input order.
//
// Per-document failures are reported in the results and never abort the
// batch. The only error return is ErrNilBatch. If ctx ends, documents that
// had not committed report syncerr.Cancelled; committed ones keep their
// result.
func (c *Coordinator) SyncBatch(ctx context.Context, docs []schema.Document) ([]schema.SyncResult, error) {
	if docs == nil {
		return nil, ErrNilBatch
	}
	c.counters.batches.Add(1)
	results := make([]schema.SyncResult, len(docs))
	if len(docs) == 0 {
		return results, nil
	}

	start := time.Now()
	c.logger.Printf("Starting sync of %d documents (concurrency=%d)", len(docs), c.cfg.Concurrency)

	c.fanOut(len(docs), func(i int) {
		results[i] = c.syncOne(ctx, docs[i])
	})

	sum := Summarize(results)
	c.logger.Printf("Sync complete: %d embedded, %d skipped, %d failed in %v",
		sum.Embedded, sum.Skipped, sum.Failed, time.Since(start).Round(time.Millisecond))
	return results, nil
}

// fanOut runs fn for every index with at most Concurrency in flight.
func (c *Coordinator) fanOut(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// syncOne runs the full state machine for one document.
func (c *Coordinator) syncOne(ctx context.Context, doc schema.Document) (res schema.SyncResult) {
	start := time.Now()
	t := c.track(doc.ID)
	res.DocumentID = doc.ID

	defer func() {
		res.Duration = time.Since(start)
		c.counters.record(res)
	}()

	var l *lease
	fail := func(err error) schema.SyncResult {
		err = l.failure(err)
		res.Action = schema.ActionFailed
		res.Err = err
		t.to(StateFailed, err)
		c.logger.Printf("WARNING: failed to sync doc %s: %v", doc.ID, err)
		return res
	}

	if err := doc.Validate(); err != nil {
		return fail(syncerr.New(syncerr.InvalidInput, doc.ID, "validate", err))
	}
	if err := syncerr.FromContext(ctx, doc.ID, "lock"); err != nil {
		return fail(err)
	}

	l, err := c.lock(ctx, doc.ID)
	if err != nil {
		return fail(err)
	}
	defer l.release()
	ctx = l.ctx
	t.to(StateLocked, nil)

	rec, err := c.stores.Records.Get(ctx, doc.ID)
	if err != nil {
		return fail(syncerr.Classify(ctx, syncerr.RecordReadFailed, doc.ID, "record get", err))
	}

	class, hash, err := c.detector.Classify(doc, rec)
	if err != nil {
		return fail(syncerr.Classify(ctx, syncerr.InvalidInput, doc.ID, "hash", err))
	}
	res.Hash = hash
	t.to(StateClassified, nil)

	if !class.NeedsWork() {
		res.Action = schema.ActionSkipped
		res.SyncVersion = rec.SyncVersion
		t.to(StateSkipped, nil)
		return res
	}

	t.to(StateEmbedding, nil)
	vec, err := c.gate.EmbedDocument(ctx, doc.ID, doc.Content)
	if err != nil {
		return fail(err)
	}

	var version int64 = 1
	if rec != nil {
		version = rec.SyncVersion + 1
	}

	t.to(StateWriting, nil)
	pointID, nodeID, err := c.writer.Write(ctx, doc, hash, vec, version)
	if err != nil {
		return fail(err)
	}

	if err := syncerr.FromContext(ctx, doc.ID, "record put"); err != nil {
		return fail(err)
	}
	if err := l.confirm(); err != nil {
		return fail(err)
	}
	next := schema.SyncRecord{
		DocumentID:    doc.ID,
		LastHash:      hash,
		VectorPointID: pointID,
		GraphNodeID:   nodeID,
		LastSyncedAt:  c.now().UTC(),
		SyncVersion:   version,
	}
	if err := c.stores.Records.Put(ctx, next); err != nil {
		err = syncerr.Classify(ctx, syncerr.RecordPersistFailed, doc.ID, "record put", err)
		if syncerr.Is(err, syncerr.RecordPersistFailed) {
			c.logger.Printf("WARNING: doc %s written to both stores but record not persisted; next sync will redo it", doc.ID)
		}
		return fail(err)
	}

	res.Action = schema.ActionEmbeddedAndWritten
	res.SyncVersion = version
	t.to(StateCommitted, nil)
	return res
}
