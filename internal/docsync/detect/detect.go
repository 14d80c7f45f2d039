// Package detect decides whether a document needs to be re-embedded.
package detect

import (
	"github.com/mschirtzinger/dualsync/internal/docsync/contenthash"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// Classification is the change state of a document relative to its record.
type Classification int

const (
	// New means no sync record exists for the document id.
	New Classification = iota
	// Modified means a record exists but its hash differs.
	Modified
	// Unchanged means the recorded hash matches; no external work is needed.
	Unchanged
)

func (c Classification) String() string {
	switch c {
	case New:
		return "new"
	case Modified:
		return "modified"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// NeedsWork reports whether the document must be embedded and written.
func (c Classification) NeedsWork() bool {
	return c == New || c == Modified
}

// Detector classifies documents using a content hasher.
type Detector struct {
	hasher *contenthash.Hasher
}

// NewDetector creates a Detector. A nil hasher uses the default volatile keys.
func NewDetector(h *contenthash.Hasher) *Detector {
	if h == nil {
		h = contenthash.New(nil)
	}
	return &Detector{hasher: h}
}

// Classify hashes doc and compares it against record, which may be nil.
// The computed hash is returned so callers don't hash twice.
func (d *Detector) Classify(doc schema.Document, record *schema.SyncRecord) (Classification, schema.ContentHash, error) {
	hash, err := d.hasher.Hash(doc)
	if err != nil {
		return New, "", err
	}
	return compare(hash, record), hash, nil
}

// Classify is Detector.Classify with the default hasher.
func Classify(doc schema.Document, record *schema.SyncRecord) (Classification, schema.ContentHash, error) {
	return defaultDetector.Classify(doc, record)
}

var defaultDetector = NewDetector(nil)

func compare(hash schema.ContentHash, record *schema.SyncRecord) Classification {
	switch {
	case record == nil:
		return New
	case record.LastHash != hash:
		return Modified
	default:
		return Unchanged
	}
}
