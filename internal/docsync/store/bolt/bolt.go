// Package bolt stores sync records in a bbolt file, encoded with msgpack.
//
// bbolt takes an exclusive file lock, so this backend suits a single
// long-running process (the daemon). Multi-process setups should use the
// sqlite backend.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

var bucketRecords = []byte("sync_records")

// RecordStore implements store.RecordStore.
type RecordStore struct {
	db *bbolt.DB
}

// Open opens or creates the bbolt file at path.
func Open(path string) (*RecordStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Close closes the database file.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Get implements store.RecordStore.
func (s *RecordStore) Get(ctx context.Context, id string) (*schema.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *schema.SyncRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return nil
		}
		rec = new(schema.SyncRecord)
		return msgpack.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return rec, nil
}

// Put implements store.RecordStore. Each Put is its own bbolt transaction.
func (s *RecordStore) Put(ctx context.Context, rec schema.SyncRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.LastSyncedAt = rec.LastSyncedAt.UTC()
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode sync record: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(rec.DocumentID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to put sync record: %w", err)
	}
	return nil
}

// Delete implements store.RecordStore.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete sync record: %w", err)
	}
	return nil
}

// List implements store.RecordStore. bbolt iterates keys in byte order,
// which is document id order.
func (s *RecordStore) List(ctx context.Context) ([]schema.SyncRecord, error) {
	return s.scan(ctx, nil)
}

// ListPrefix returns records whose document id starts with prefix.
func (s *RecordStore) ListPrefix(ctx context.Context, prefix string) ([]schema.SyncRecord, error) {
	return s.scan(ctx, []byte(prefix))
}

func (s *RecordStore) scan(ctx context.Context, prefix []byte) ([]schema.SyncRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []schema.SyncRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec schema.SyncRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	return out, nil
}
