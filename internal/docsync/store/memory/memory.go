// Package memory provides in-process implementations of the store
// capabilities. They back dry runs, the load test and the engine's tests,
// and expose call counters plus failure hooks for that purpose.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// VectorEntry is a stored vector with its payload.
type VectorEntry struct {
	PointID string
	Vector  []float32
	Payload map[string]any
}

// VectorStore is an in-memory store.VectorStore.
type VectorStore struct {
	// FailUpsert, when set, is consulted before every upsert. A non-nil
	// return fails the call without modifying state.
	FailUpsert func(id string) error

	mu      sync.RWMutex
	entries map[string]VectorEntry
	upserts atomic.Int64
	deletes atomic.Int64
}

// NewVectorStore creates an empty VectorStore.
func NewVectorStore() *VectorStore {
	return &VectorStore{entries: make(map[string]VectorEntry)}
}

// Upsert implements store.VectorStore.
func (s *VectorStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.upserts.Add(1)
	if s.FailUpsert != nil {
		if err := s.FailUpsert(id); err != nil {
			return "", err
		}
	}

	pointID := "vec-" + id
	s.mu.Lock()
	s.entries[id] = VectorEntry{
		PointID: pointID,
		Vector:  append([]float32(nil), vector...),
		Payload: cloneProps(payload),
	}
	s.mu.Unlock()
	return pointID, nil
}

// Delete implements store.VectorStore.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.deletes.Add(1)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Get returns the entry for id.
func (s *VectorStore) Get(id string) (VectorEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of stored entries.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Upserts returns how many upserts were attempted, including failed ones.
func (s *VectorStore) Upserts() int64 { return s.upserts.Load() }

// Deletes returns how many deletes were attempted.
func (s *VectorStore) Deletes() int64 { return s.deletes.Load() }

// GraphStore is an in-memory store.GraphStore.
type GraphStore struct {
	// FailUpsertNode, when set, is consulted before every node upsert.
	FailUpsertNode func(id string) error

	// FailUpsertEdges, when set, is consulted before every edge reconcile.
	FailUpsertEdges func(id string) error

	mu          sync.RWMutex
	nodes       map[string]map[string]any
	edges       map[string][]schema.Edge
	nodeUpserts atomic.Int64
	edgeUpserts atomic.Int64
}

// NewGraphStore creates an empty GraphStore.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes: make(map[string]map[string]any),
		edges: make(map[string][]schema.Edge),
	}
}

// UpsertNode implements store.GraphStore.
func (s *GraphStore) UpsertNode(ctx context.Context, id string, props map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.nodeUpserts.Add(1)
	if s.FailUpsertNode != nil {
		if err := s.FailUpsertNode(id); err != nil {
			return "", err
		}
	}
	s.mu.Lock()
	s.nodes[id] = cloneProps(props)
	s.mu.Unlock()
	return "node-" + id, nil
}

// UpsertEdges implements store.GraphStore.
func (s *GraphStore) UpsertEdges(ctx context.Context, id string, edges []schema.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.edgeUpserts.Add(1)
	if s.FailUpsertEdges != nil {
		if err := s.FailUpsertEdges(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if len(edges) == 0 {
		delete(s.edges, id)
	} else {
		s.edges[id] = append([]schema.Edge(nil), edges...)
	}
	s.mu.Unlock()
	return nil
}

// DeleteNode implements store.GraphStore.
func (s *GraphStore) DeleteNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.nodes, id)
	delete(s.edges, id)
	s.mu.Unlock()
	return nil
}

// Node returns a copy of the properties of node id.
func (s *GraphStore) Node(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.nodes[id]
	return cloneProps(p), ok
}

// Edges returns the outgoing edges of node id.
func (s *GraphStore) Edges(id string) []schema.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Edge(nil), s.edges[id]...)
}

// Len returns the number of nodes.
func (s *GraphStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// NodeUpserts returns how many node upserts were attempted.
func (s *GraphStore) NodeUpserts() int64 { return s.nodeUpserts.Load() }

// EdgeUpserts returns how many edge reconciles were attempted.
func (s *GraphStore) EdgeUpserts() int64 { return s.edgeUpserts.Load() }

// RecordStore is an in-memory store.RecordStore.
type RecordStore struct {
	// FailGet and FailPut, when set, are consulted before the operation.
	FailGet func(id string) error
	FailPut func(rec schema.SyncRecord) error

	mu      sync.RWMutex
	records map[string]schema.SyncRecord
	puts    atomic.Int64
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]schema.SyncRecord)}
}

// Get implements store.RecordStore.
func (s *RecordStore) Get(ctx context.Context, id string) (*schema.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailGet != nil {
		if err := s.FailGet(id); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put implements store.RecordStore.
func (s *RecordStore) Put(ctx context.Context, rec schema.SyncRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.puts.Add(1)
	if s.FailPut != nil {
		if err := s.FailPut(rec); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.records[rec.DocumentID] = rec
	s.mu.Unlock()
	return nil
}

// Delete implements store.RecordStore.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// List implements store.RecordStore.
func (s *RecordStore) List(ctx context.Context) ([]schema.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]schema.SyncRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// Puts returns how many puts were attempted.
func (s *RecordStore) Puts() int64 { return s.puts.Load() }

func cloneProps(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
