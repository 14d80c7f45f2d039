package coordinator

import (
	"context"
	"errors"

	"github.com/mschirtzinger/dualsync/internal/docsync/detect"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

var errEmptyID = errors.New("document id is empty")

// DocStatus is the dry-run classification of one document.
type DocStatus struct {
	DocumentID     string
	Classification detect.Classification
	Hash           schema.ContentHash
	Record         *schema.SyncRecord
	Err            error
}

// StatusReport summarizes what a SyncBatch over the same documents would do.
type StatusReport struct {
	Docs      []DocStatus
	New       int
	Modified  int
	Unchanged int
	Invalid   int

	// Records is the number of sync records in the record store.
	Records int

	// Stale lists recorded ids absent from the documents; Prune would delete them.
	Stale []string
}

// Pending returns the number of documents that would be embedded.
func (r StatusReport) Pending() int {
	return r.New + r.Modified
}

// Status classifies docs without taking locks or calling any store other
// than the record store.
func (c *Coordinator) Status(ctx context.Context, docs []schema.Document) (*StatusReport, error) {
	if docs == nil {
		return nil, ErrNilBatch
	}

	report := &StatusReport{Docs: make([]DocStatus, len(docs))}
	for i, doc := range docs {
		report.Docs[i].DocumentID = doc.ID

		if err := doc.Validate(); err != nil {
			report.Docs[i].Err = syncerr.New(syncerr.InvalidInput, doc.ID, "validate", err)
			report.Invalid++
			continue
		}
		rec, err := c.stores.Records.Get(ctx, doc.ID)
		if err != nil {
			return nil, syncerr.Classify(ctx, syncerr.RecordReadFailed, doc.ID, "record get", err)
		}
		class, hash, err := c.detector.Classify(doc, rec)
		if err != nil {
			report.Docs[i].Err = err
			report.Invalid++
			continue
		}

		report.Docs[i].Classification = class
		report.Docs[i].Hash = hash
		report.Docs[i].Record = rec
		switch class {
		case detect.New:
			report.New++
		case detect.Modified:
			report.Modified++
		case detect.Unchanged:
			report.Unchanged++
		}
	}

	records, err := c.stores.Records.List(ctx)
	if err != nil {
		return nil, syncerr.Classify(ctx, syncerr.RecordReadFailed, "", "record list", err)
	}
	report.Records = len(records)
	report.Stale = staleIDs(records, docs)
	return report, nil
}
