package schema

import "time"

// ContentHash is the lowercase hex SHA-256 digest of a document's
// semantically relevant fields.
type ContentHash string

// SyncRecord is the durable state that says whether a document is in sync.
//
// A record with LastHash H guarantees that both the vector entry and the
// graph node for DocumentID reflect content hashing to H. It is written only
// after both stores confirmed the write.
type SyncRecord struct {
	DocumentID    string      `json:"document_id" msgpack:"document_id"`
	LastHash      ContentHash `json:"last_hash" msgpack:"last_hash"`
	VectorPointID string      `json:"vector_point_id" msgpack:"vector_point_id"`
	GraphNodeID   string      `json:"graph_node_id" msgpack:"graph_node_id"`
	LastSyncedAt  time.Time   `json:"last_synced_at" msgpack:"last_synced_at"`
	SyncVersion   int64       `json:"sync_version" msgpack:"sync_version"`
}

// Action is the outcome recorded for one document in a batch.
type Action string

const (
	// ActionSkipped means the content hash matched; no external calls were made.
	ActionSkipped Action = "skipped"
	// ActionEmbeddedAndWritten means a new vector was generated and both stores were updated.
	ActionEmbeddedAndWritten Action = "embedded_and_written"
	// ActionDeleted means the document was removed from both stores and its record dropped.
	ActionDeleted Action = "deleted"
	// ActionFailed means the document did not reach a committed state; see SyncResult.Err.
	ActionFailed Action = "failed"
)

// SyncResult is the per-document outcome returned to the caller.
type SyncResult struct {
	DocumentID string
	Action     Action
	// Hash is the content hash computed for this attempt (empty for deletes
	// and for documents rejected before hashing).
	Hash ContentHash
	// SyncVersion is the committed record version (0 unless committed).
	SyncVersion int64
	Err         error
	Duration    time.Duration
}

// Failed reports whether the document ended in the failed state.
func (r SyncResult) Failed() bool {
	return r.Action == ActionFailed
}
