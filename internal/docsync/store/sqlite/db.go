// Package sqlite provides SQLite-backed sync records, a local graph store
// and a lease-based document locker.
//
// The database runs in embedded mode (ncruces/go-sqlite3, no cgo) with WAL
// so several agent processes on one host can share it:
//   - Database file: .dsync/dsync.db
//   - Tables: sync_records, graph_nodes, graph_edges, doc_locks
//   - WAL mode: concurrent readers during writes
//   - busy_timeout: writers from other processes wait instead of failing
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := sqlite.Open(".dsync/dsync.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with a context for the schema setup.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchemaContext creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_records (
		document_id TEXT PRIMARY KEY,
		last_hash TEXT NOT NULL,
		vector_point_id TEXT NOT NULL,
		graph_node_id TEXT NOT NULL,
		last_synced_at TEXT NOT NULL,
		sync_version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS graph_nodes (
		id TEXT PRIMARY KEY,
		props TEXT NOT NULL,  -- JSON object
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS graph_edges (
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,  -- may name a node that is not synced yet
		type TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, type),
		FOREIGN KEY (from_id) REFERENCES graph_nodes(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS doc_locks (
		key TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL  -- unix milliseconds
	);

	CREATE INDEX IF NOT EXISTS idx_graph_edges_to ON graph_edges(to_id);
	CREATE INDEX IF NOT EXISTS idx_sync_records_synced ON sync_records(last_synced_at);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (db *DB) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
