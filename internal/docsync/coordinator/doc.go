// Package coordinator drives incremental synchronization of documents into
// a vector store and a graph store.
//
// Overview
//
// For every document in a batch the coordinator takes a per-document lock,
// compares the document's content hash with the last committed one, and
// only when it changed embeds the content and writes both stores. The sync
// record is advanced after both writes succeed, never before:
//
//	Document ──► lock ──► classify ──┬─► unchanged ──► skipped
//	                                 │
//	                                 └─► new/modified ──► embed ──► vector upsert
//	                                                                   │
//	                              record.Put ◄── graph upsert + edges ◄┘
//
// Usage
//
//	c, err := coordinator.New(coordinator.Stores{
//	    Embedder: embedder,
//	    Vectors:  vectors,
//	    Graph:    graph,
//	    Records:  records,
//	    Locker:   locker,
//	}, coordinator.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	results, err := c.SyncBatch(ctx, docs)
//	if err != nil {
//	    return err // only for a nil batch
//	}
//	for _, r := range results {
//	    if r.Failed() {
//	        log.Printf("%s: %v", r.DocumentID, r.Err)
//	    }
//	}
//
// Failure handling
//
// Per-document failures never abort the batch; they are reported in that
// document's SyncResult with a syncerr kind. A failed graph write leaves the
// vector entry in place and the record untouched, so the next sync sees the
// document as modified and redoes both writes. RECORD_PERSIST_FAILED means
// both stores hold the new version but the record does not; the next sync
// repeats the embedding without harming consistency.
//
// Concurrency
//
// Documents are processed by at most Config.Concurrency workers. The lock
// is taken from the Locker, which should be shared by every process that
// syncs the same corpus (SQLite lease table or Redis). Locks are released on
// every exit path, including cancellation.
package coordinator
