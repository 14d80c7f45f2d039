package coordinator

import (
	"context"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// Delete removes documents from both stores and drops their records.
//
// Each id is handled under its document lock: vector entry first, then the
// graph node, then the record. The record goes last so that a failed store
// delete is retried by the next Delete or Prune. Deleting an unknown id
// succeeds.
func (c *Coordinator) Delete(ctx context.Context, ids []string) ([]schema.SyncResult, error) {
	if ids == nil {
		return nil, ErrNilBatch
	}
	results := make([]schema.SyncResult, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	c.logger.Printf("Deleting %d documents", len(ids))
	c.fanOut(len(ids), func(i int) {
		results[i] = c.deleteOne(ctx, ids[i])
	})
	return results, nil
}

func (c *Coordinator) deleteOne(ctx context.Context, id string) (res schema.SyncResult) {
	start := time.Now()
	t := c.track(id)
	res.DocumentID = id

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
		c.logger.Printf("WARNING: failed to delete doc %s: %v", id, err)
		return res
	}

	if id == "" {
		return fail(syncerr.New(syncerr.InvalidInput, "", "delete", errEmptyID))
	}
	if err := syncerr.FromContext(ctx, id, "lock"); err != nil {
		return fail(err)
	}

	l, err := c.lock(ctx, id)
	if err != nil {
		return fail(err)
	}
	defer l.release()
	ctx = l.ctx
	t.to(StateLocked, nil)

	t.to(StateDeleting, nil)
	if err := c.writer.Delete(ctx, id); err != nil {
		return fail(err)
	}
	if err := l.confirm(); err != nil {
		return fail(err)
	}
	if err := c.stores.Records.Delete(ctx, id); err != nil {
		return fail(syncerr.Classify(ctx, syncerr.RecordPersistFailed, id, "record delete", err))
	}

	res.Action = schema.ActionDeleted
	t.to(StateDeleted, nil)
	c.logger.Printf("Deleted doc %s", id)
	return res
}

// Prune deletes every recorded document whose id is not in keep.
// An empty keep slice prunes everything; a nil one is rejected.
func (c *Coordinator) Prune(ctx context.Context, keep []schema.Document) ([]schema.SyncResult, error) {
	if keep == nil {
		return nil, ErrNilBatch
	}
	records, err := c.stores.Records.List(ctx)
	if err != nil {
		return nil, syncerr.Classify(ctx, syncerr.RecordReadFailed, "", "record list", err)
	}
	stale := staleIDs(records, keep)
	if len(stale) == 0 {
		return []schema.SyncResult{}, nil
	}
	c.logger.Printf("Pruning %d stale documents", len(stale))
	return c.Delete(ctx, stale)
}

// staleIDs returns the ids of records with no matching document.
func staleIDs(records []schema.SyncRecord, docs []schema.Document) []string {
	present := make(map[string]bool, len(docs))
	for _, d := range docs {
		present[d.ID] = true
	}
	stale := []string{}
	for _, rec := range records {
		if !present[rec.DocumentID] {
			stale = append(stale, rec.DocumentID)
		}
	}
	return stale
}
