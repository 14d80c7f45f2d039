// Package syncerr defines the error taxonomy surfaced in per-document sync results.
package syncerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a per-document failure.
type Kind string

const (
	// InvalidInput indicates a malformed document (e.g. empty id).
	InvalidInput Kind = "INVALID_INPUT"

	// LockTimeout indicates the per-document lock could not be acquired in time.
	LockTimeout Kind = "LOCK_TIMEOUT"

	// LockLost indicates the document's lease expired or was taken over
	// before the record was committed. The record was not written.
	LockLost Kind = "LOCK_LOST"

	// RecordReadFailed indicates the sync record could not be loaded.
	RecordReadFailed Kind = "RECORD_READ_FAILED"

	// EmbeddingFailed indicates a terminal embedding error, or transient
	// errors that exhausted the retry budget.
	EmbeddingFailed Kind = "EMBEDDING_FAILED"

	// VectorWriteFailed indicates the vector upsert failed; no graph write was attempted.
	VectorWriteFailed Kind = "VECTOR_WRITE_FAILED"

	// GraphWriteFailed indicates the graph upsert failed after the vector write
	// succeeded. The record hash was not advanced, so the next sync re-drives both writes.
	GraphWriteFailed Kind = "GRAPH_WRITE_FAILED"

	// RecordPersistFailed indicates both stores were written but the record
	// could not be saved. State is consistent; the next sync redoes the work.
	RecordPersistFailed Kind = "RECORD_PERSIST_FAILED"

	// Cancelled indicates the batch context ended before the document committed.
	Cancelled Kind = "CANCELLED"
)

// Error is a categorized per-document error.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// DocumentID identifies the affected document (may be empty).
	DocumentID string

	// Op names the step that failed (e.g. "vector upsert").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.DocumentID != "" {
		msg += fmt.Sprintf(" (doc=%s)", e.DocumentID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, docID, op string, err error) *Error {
	return &Error{Kind: kind, DocumentID: docID, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
// Uses errors.As to handle wrapped errors.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromContext maps a context error to Cancelled, or returns nil when ctx is live.
func FromContext(ctx context.Context, docID, op string) *Error {
	if err := ctx.Err(); err != nil {
		return New(Cancelled, docID, op, err)
	}
	return nil
}

// Classify wraps err with kind unless it is (or is caused by) a context
// cancellation, which is always reported as Cancelled. An err that already
// carries a Kind is returned unchanged.
func Classify(ctx context.Context, kind Kind, docID, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return New(Cancelled, docID, op, err)
	}
	return New(kind, docID, op, err)
}
