package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// timeFormat is fixed-width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// RecordStore implements store.RecordStore on the sync_records table.
type RecordStore struct {
	db *DB
}

// Records returns the record store view of db.
func (db *DB) Records() *RecordStore {
	return &RecordStore{db: db}
}

// Get implements store.RecordStore.
func (s *RecordStore) Get(ctx context.Context, id string) (*schema.SyncRecord, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT document_id, last_hash, vector_point_id, graph_node_id, last_synced_at, sync_version
		FROM sync_records WHERE document_id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return rec, nil
}

// Put implements store.RecordStore. A single-row upsert is atomic.
func (s *RecordStore) Put(ctx context.Context, rec schema.SyncRecord) error {
	query := `
		INSERT INTO sync_records (document_id, last_hash, vector_point_id, graph_node_id, last_synced_at, sync_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			last_hash = excluded.last_hash,
			vector_point_id = excluded.vector_point_id,
			graph_node_id = excluded.graph_node_id,
			last_synced_at = excluded.last_synced_at,
			sync_version = excluded.sync_version
	`
	_, err := s.db.conn.ExecContext(ctx, query,
		rec.DocumentID,
		string(rec.LastHash),
		rec.VectorPointID,
		rec.GraphNodeID,
		rec.LastSyncedAt.UTC().Format(timeFormat),
		rec.SyncVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to put sync record: %w", err)
	}
	return nil
}

// Delete implements store.RecordStore.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.conn.ExecContext(ctx, "DELETE FROM sync_records WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete sync record: %w", err)
	}
	return nil
}

// List implements store.RecordStore.
func (s *RecordStore) List(ctx context.Context) ([]schema.SyncRecord, error) {
	return s.query(ctx, `
		SELECT document_id, last_hash, vector_point_id, graph_node_id, last_synced_at, sync_version
		FROM sync_records ORDER BY document_id`)
}

// SyncedSince returns records whose last sync is at or after t.
func (s *RecordStore) SyncedSince(ctx context.Context, t time.Time) ([]schema.SyncRecord, error) {
	return s.query(ctx, `
		SELECT document_id, last_hash, vector_point_id, graph_node_id, last_synced_at, sync_version
		FROM sync_records WHERE last_synced_at >= ? ORDER BY last_synced_at DESC`,
		t.UTC().Format(timeFormat))
}

// Count returns the number of records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	return s.db.count(ctx, "sync_records")
}

func (s *RecordStore) query(ctx context.Context, query string, args ...any) ([]schema.SyncRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	var out []schema.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*schema.SyncRecord, error) {
	var (
		rec      schema.SyncRecord
		hash     string
		syncedAt string
	)
	if err := row.Scan(&rec.DocumentID, &hash, &rec.VectorPointID, &rec.GraphNodeID, &syncedAt, &rec.SyncVersion); err != nil {
		return nil, err
	}
	rec.LastHash = schema.ContentHash(hash)

	t, err := time.Parse(timeFormat, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid last_synced_at %q: %w", syncedAt, err)
	}
	rec.LastSyncedAt = t
	return &rec, nil
}
