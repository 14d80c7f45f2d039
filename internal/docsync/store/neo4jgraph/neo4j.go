// Package neo4jgraph implements store.GraphStore on a Neo4j (or Bolt-compatible)
// server.
//
// Every document is a (:Document {doc_id}) node. Edges are stored as
// [:LINKS {type}] relationships because relationship types cannot be
// passed as query parameters. Edge targets that have not been synced yet
// are created as bare placeholder nodes and filled in on their own sync.
package neo4jgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// Config configures the driver.
type Config struct {
	// URI is the server address, e.g. bolt://localhost:7687.
	URI string

	// Username and Password select basic auth. Empty Username means no auth.
	Username string
	Password string

	// Database selects the target database. Empty uses the server default.
	Database string
}

// GraphStore is a Neo4j-backed store.GraphStore.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open creates a driver and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*GraphStore, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	s := &GraphStore{driver: driver, database: cfg.Database}
	if err := s.ensureConstraint(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close closes the driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *GraphStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

func (s *GraphStore) ensureConstraint(ctx context.Context) error {
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = sess.Close(ctx) }()

	_, err := sess.Run(ctx,
		"CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.doc_id IS UNIQUE", nil)
	if err != nil {
		return fmt.Errorf("failed to create document constraint: %w", err)
	}
	return nil
}

// UpsertNode implements store.GraphStore. It replaces every property of
// the node and returns the server element id.
func (s *GraphStore) UpsertNode(ctx context.Context, id string, props map[string]any) (string, error) {
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = sess.Close(ctx) }()

	out, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, upsertNodeQuery, map[string]any{
			"id":    id,
			"props": nodeProps(props),
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		nid, _ := rec.Get("nid")
		return nid, nil
	})
	if err != nil {
		return "", classify(fmt.Errorf("neo4j upsert node %s: %w", id, err))
	}
	nid, _ := out.(string)
	return nid, nil
}

// UpsertEdges implements store.GraphStore. Existing outgoing edges are
// removed and the given set recreated inside one transaction.
func (s *GraphStore) UpsertEdges(ctx context.Context, id string, edges []schema.Edge) error {
	params, err := edgeParams(id, edges)
	if err != nil {
		return err
	}

	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = sess.Close(ctx) }()

	_, err = sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, clearEdgesQuery, map[string]any{"id": id}); err != nil {
			return nil, err
		}
		if len(params) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx, createEdgesQuery, map[string]any{"id": id, "edges": params})
		return nil, err
	})
	if err != nil {
		return classify(fmt.Errorf("neo4j upsert edges %s: %w", id, err))
	}
	return nil
}

// DeleteNode implements store.GraphStore. Neo4j cannot keep dangling
// relationships, so incoming edges go with the node.
func (s *GraphStore) DeleteNode(ctx context.Context, id string) error {
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = sess.Close(ctx) }()

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "MATCH (d:Document {doc_id: $id}) DETACH DELETE d", map[string]any{"id": id})
		return nil, err
	})
	if err != nil {
		return classify(fmt.Errorf("neo4j delete node %s: %w", id, err))
	}
	return nil
}

// Edges returns the outgoing edges of id ordered by target and type.
func (s *GraphStore) Edges(ctx context.Context, id string) ([]schema.Edge, error) {
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = sess.Close(ctx) }()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, listEdgesQuery, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var edges []schema.Edge
		for res.Next(ctx) {
			to, _ := res.Record().Get("to")
			typ, _ := res.Record().Get("type")
			edges = append(edges, schema.Edge{From: id, To: fmt.Sprint(to), Type: fmt.Sprint(typ)})
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j list edges %s: %w", id, err)
	}
	edges, _ := out.([]schema.Edge)
	return edges, nil
}

const (
	upsertNodeQuery = `MERGE (d:Document {doc_id: $id})
SET d = $props, d.doc_id = $id
RETURN elementId(d) AS nid`

	clearEdgesQuery = `MATCH (:Document {doc_id: $id})-[r:LINKS]->() DELETE r`

	createEdgesQuery = `MATCH (s:Document {doc_id: $id})
UNWIND $edges AS e
MERGE (t:Document {doc_id: e.to})
MERGE (s)-[:LINKS {type: e.type}]->(t)`

	listEdgesQuery = `MATCH (:Document {doc_id: $id})-[r:LINKS]->(t:Document)
RETURN t.doc_id AS to, r.type AS type
ORDER BY to, type`
)

// nodeProps keeps only values Neo4j can store as properties.
func nodeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch t := v.(type) {
		case string, bool, int64, float64, []string:
			out[k] = t
		case int:
			out[k] = int64(t)
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// edgeParams validates edges and converts them to query parameters,
// dropping duplicates.
func edgeParams(id string, edges []schema.Edge) ([]map[string]any, error) {
	seen := make(map[schema.Edge]bool, len(edges))
	out := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid edge %s: %w", e, err)
		}
		if e.From != id {
			return nil, fmt.Errorf("edge %s does not start at %s", e, id)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, map[string]any{"to": e.To, "type": e.Type})
	}
	return out, nil
}

func classify(err error) error {
	if neo4j.IsRetryable(err) {
		return retry.Transient(err)
	}
	return err
}
