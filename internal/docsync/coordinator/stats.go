package coordinator

import (
	"sync/atomic"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// Stats is a snapshot of a coordinator's lifetime counters.
type Stats struct {
	Batches       int64 `json:"batches"`
	Skipped       int64 `json:"skipped"`
	Embedded      int64 `json:"embedded"`
	Deleted       int64 `json:"deleted"`
	Failed        int64 `json:"failed"`
	LockTimeouts  int64 `json:"lock_timeouts"`
	PersistFailed int64 `json:"record_persist_failed"`
	EmbedCalls    int64 `json:"embed_calls"`
	EmbedFailures int64 `json:"embed_failures"`
}

type counters struct {
	batches       atomic.Int64
	skipped       atomic.Int64
	embedded      atomic.Int64
	deleted       atomic.Int64
	failed        atomic.Int64
	lockTimeouts  atomic.Int64
	persistFailed atomic.Int64
}

func (c *counters) record(r schema.SyncResult) {
	switch r.Action {
	case schema.ActionSkipped:
		c.skipped.Add(1)
	case schema.ActionEmbeddedAndWritten:
		c.embedded.Add(1)
	case schema.ActionDeleted:
		c.deleted.Add(1)
	case schema.ActionFailed:
		c.failed.Add(1)
		switch syncerr.KindOf(r.Err) {
		case syncerr.LockTimeout:
			c.lockTimeouts.Add(1)
		case syncerr.RecordPersistFailed:
			c.persistFailed.Add(1)
		}
	}
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Batches:       c.counters.batches.Load(),
		Skipped:       c.counters.skipped.Load(),
		Embedded:      c.counters.embedded.Load(),
		Deleted:       c.counters.deleted.Load(),
		Failed:        c.counters.failed.Load(),
		LockTimeouts:  c.counters.lockTimeouts.Load(),
		PersistFailed: c.counters.persistFailed.Load(),
		EmbedCalls:    c.gate.Calls(),
		EmbedFailures: c.gate.Failures(),
	}
}

// Summary aggregates the results of one batch.
type Summary struct {
	Total    int                  `json:"total"`
	Embedded int                  `json:"embedded"`
	Skipped  int                  `json:"skipped"`
	Deleted  int                  `json:"deleted"`
	Failed   int                  `json:"failed"`
	ByKind   map[syncerr.Kind]int `json:"by_kind,omitempty"`
}

// Summarize counts results by action and failure kind.
func Summarize(results []schema.SyncResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Action {
		case schema.ActionEmbeddedAndWritten:
			s.Embedded++
		case schema.ActionSkipped:
			s.Skipped++
		case schema.ActionDeleted:
			s.Deleted++
		case schema.ActionFailed:
			s.Failed++
			if s.ByKind == nil {
				s.ByKind = make(map[syncerr.Kind]int)
			}
			s.ByKind[syncerr.KindOf(r.Err)]++
		}
	}
	return s
}
