// Package writer applies a document version to the vector and graph stores.
//
// The vector store is written first, then the graph node, then the node's
// edges. A vector failure aborts before any graph call. A graph failure
// leaves the vector entry in place: there is no rollback. The caller must
// not advance the sync record unless Write returns nil, so the next sync
// classifies the document as modified and re-drives both writes.
package writer

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/contenthash"
	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// Property and payload keys written for every document. Metadata keys that
// collide with these are shadowed.
const (
	PropDocumentID    = "document_id"
	PropContentHash   = "content_hash"
	PropVectorPointID = "vector_point_id"
	PropSyncVersion   = "sync_version"
)

// Config configures a Writer.
type Config struct {
	// Retry governs retries of transient store errors.
	Retry retry.Policy

	// EdgeKeys lists the metadata keys that imply graph edges
	// (default: schema.DefaultEdgeKeys).
	EdgeKeys []string

	// Hasher filters volatile metadata out of payloads (default: contenthash.New(nil)).
	Hasher *contenthash.Hasher

	// Logger for retry warnings. Nil logs to stderr.
	Logger *log.Logger
}

// Writer is the dual-store writer. It is safe for concurrent use as long
// as the underlying stores are.
type Writer struct {
	vectors  store.VectorStore
	graph    store.GraphStore
	policy   retry.Policy
	edgeKeys []string
	hasher   *contenthash.Hasher
	logger   *log.Logger
}

// New creates a Writer.
func New(vectors store.VectorStore, graph store.GraphStore, cfg Config) *Writer {
	if cfg.EdgeKeys == nil {
		cfg.EdgeKeys = schema.DefaultEdgeKeys
	}
	if cfg.Hasher == nil {
		cfg.Hasher = contenthash.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[writer] ", log.LstdFlags)
	}
	return &Writer{
		vectors:  vectors,
		graph:    graph,
		policy:   cfg.Retry,
		edgeKeys: cfg.EdgeKeys,
		hasher:   cfg.Hasher,
		logger:   cfg.Logger,
	}
}

// Write upserts the vector entry and then the graph node plus edges for
// doc. version is the sync version the caller will commit on success and
// is stored on the graph node.
//
// Errors carry syncerr.VectorWriteFailed or syncerr.GraphWriteFailed, or
// syncerr.Cancelled if ctx ended.
func (w *Writer) Write(ctx context.Context, doc schema.Document, hash schema.ContentHash, vector []float32, version int64) (pointID, nodeID string, err error) {
	meta := w.hasher.FilterMetadata(doc)

	payload := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		payload[k] = v
	}
	payload[PropDocumentID] = doc.ID
	payload[PropContentHash] = string(hash)

	err = w.do(ctx, doc.ID, "vector upsert", func(ctx context.Context) error {
		id, err := w.vectors.Upsert(ctx, doc.ID, vector, payload)
		pointID = id
		return err
	})
	if err != nil {
		return "", "", syncerr.Classify(ctx, syncerr.VectorWriteFailed, doc.ID, "vector upsert", err)
	}

	props := make(map[string]any, len(meta)+4)
	for k, v := range meta {
		props[k] = v
	}
	props[PropDocumentID] = doc.ID
	props[PropContentHash] = string(hash)
	props[PropVectorPointID] = pointID
	props[PropSyncVersion] = version

	err = w.do(ctx, doc.ID, "graph upsert", func(ctx context.Context) error {
		id, err := w.graph.UpsertNode(ctx, doc.ID, props)
		nodeID = id
		return err
	})
	if err != nil {
		return pointID, "", syncerr.Classify(ctx, syncerr.GraphWriteFailed, doc.ID, "graph upsert", err)
	}

	edges := doc.Edges(w.edgeKeys)
	err = w.do(ctx, doc.ID, "graph edges", func(ctx context.Context) error {
		return w.graph.UpsertEdges(ctx, doc.ID, edges)
	})
	if err != nil {
		return pointID, nodeID, syncerr.Classify(ctx, syncerr.GraphWriteFailed, doc.ID, "graph edges", err)
	}

	return pointID, nodeID, nil
}

// Delete removes the document from the vector store and then the graph.
// Both deletes are idempotent.
func (w *Writer) Delete(ctx context.Context, docID string) error {
	err := w.do(ctx, docID, "vector delete", func(ctx context.Context) error {
		return w.vectors.Delete(ctx, docID)
	})
	if err != nil {
		return syncerr.Classify(ctx, syncerr.VectorWriteFailed, docID, "vector delete", err)
	}

	err = w.do(ctx, docID, "graph delete", func(ctx context.Context) error {
		return w.graph.DeleteNode(ctx, docID)
	})
	if err != nil {
		return syncerr.Classify(ctx, syncerr.GraphWriteFailed, docID, "graph delete", err)
	}
	return nil
}

func (w *Writer) do(ctx context.Context, docID, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, w.policy, func(attempt int, err error, delay time.Duration) {
		w.logger.Printf("retrying %s for %s in %v (attempt %d): %v", op, docID, delay.Round(time.Millisecond), attempt, err)
	}, fn)
}
