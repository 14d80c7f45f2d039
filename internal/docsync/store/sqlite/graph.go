package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// GraphStore implements store.GraphStore on graph_nodes and graph_edges.
// It is the default graph backend for single-host setups without Neo4j.
type GraphStore struct {
	db *DB
}

// Graph returns the graph store view of db.
func (db *DB) Graph() *GraphStore {
	return &GraphStore{db: db}
}

// UpsertNode implements store.GraphStore. The node id is the document id.
func (g *GraphStore) UpsertNode(ctx context.Context, id string, props map[string]any) (string, error) {
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node props: %w", err)
	}

	query := `
		INSERT INTO graph_nodes (id, props, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET props = excluded.props, updated_at = excluded.updated_at
	`
	if _, err := g.db.conn.ExecContext(ctx, query, id, string(data), time.Now().UTC().Format(timeFormat)); err != nil {
		return "", fmt.Errorf("failed to upsert node: %w", err)
	}
	return id, nil
}

// UpsertEdges implements store.GraphStore. The edge set of id is replaced
// in one transaction.
func (g *GraphStore) UpsertEdges(ctx context.Context, id string, edges []schema.Edge) error {
	tx, err := g.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edges WHERE from_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear edges: %w", err)
	}

	for _, e := range edges {
		if e.From != id {
			return fmt.Errorf("edge %s does not start at node %s", e, id)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid edge %s: %w", e, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO graph_edges (from_id, to_id, type) VALUES (?, ?, ?)",
			e.From, e.To, e.Type); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edges: %w", err)
	}
	return nil
}

// DeleteNode implements store.GraphStore. Outgoing edges cascade.
func (g *GraphStore) DeleteNode(ctx context.Context, id string) error {
	tx, err := g.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edges WHERE from_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_nodes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return tx.Commit()
}

// Node returns the properties of node id, or nil if it doesn't exist.
func (g *GraphStore) Node(ctx context.Context, id string) (map[string]any, error) {
	var data string
	err := g.db.conn.QueryRowContext(ctx, "SELECT props FROM graph_nodes WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	var props map[string]any
	if err := json.Unmarshal([]byte(data), &props); err != nil {
		return nil, fmt.Errorf("failed to parse node props: %w", err)
	}
	return props, nil
}

// Edges returns the outgoing edges of id ordered by (type, to).
func (g *GraphStore) Edges(ctx context.Context, id string) ([]schema.Edge, error) {
	return g.edges(ctx, "SELECT from_id, to_id, type FROM graph_edges WHERE from_id = ? ORDER BY type, to_id", id)
}

// Incoming returns the edges pointing at id ordered by (type, from).
func (g *GraphStore) Incoming(ctx context.Context, id string) ([]schema.Edge, error) {
	return g.edges(ctx, "SELECT from_id, to_id, type FROM graph_edges WHERE to_id = ? ORDER BY type, from_id", id)
}

func (g *GraphStore) edges(ctx context.Context, query, id string) ([]schema.Edge, error) {
	rows, err := g.db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var out []schema.Edge
	for rows.Next() {
		var e schema.Edge
		if err := rows.Scan(&e.From, &e.To, &e.Type); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NodeCount returns the number of nodes.
func (g *GraphStore) NodeCount(ctx context.Context) (int, error) {
	return g.db.count(ctx, "graph_nodes")
}

// EdgeCount returns the number of edges.
func (g *GraphStore) EdgeCount(ctx context.Context) (int, error) {
	return g.db.count(ctx, "graph_edges")
}
