package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/config"
	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/embed"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/bolt"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/memory"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/neo4jgraph"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/qdrant"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/redislock"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/sqlite"
)

// backends is the set of collaborators opened from the config.
type backends struct {
	stores coordinator.Stores

	// sqlite is set when any component uses the SQLite database.
	sqlite *sqlite.DB

	closers []func() error
}

func (b *backends) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// syncedSince lists records committed at or after t.
func (b *backends) syncedSince(ctx context.Context, t time.Time) ([]schema.SyncRecord, error) {
	if rs, ok := b.stores.Records.(*sqlite.RecordStore); ok {
		return rs.SyncedSince(ctx, t)
	}
	all, err := b.stores.Records.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []schema.SyncRecord
	for _, r := range all {
		if !r.LastSyncedAt.Before(t) {
			out = append(out, r)
		}
	}
	return out, nil
}

// openBackends opens every backend named in cfg. stateDir holds local
// database files.
func openBackends(ctx context.Context, cfg *config.Config, stateDir string, logger *log.Logger) (b *backends, err error) {
	b = &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	sqliteDB := func() (*sqlite.DB, error) {
		if b.sqlite != nil {
			return b.sqlite, nil
		}
		db, err := sqlite.OpenContext(ctx, resolve(stateDir, cfg.Records.Path))
		if err != nil {
			return nil, err
		}
		b.sqlite = db
		b.closers = append(b.closers, db.Close)
		return db, nil
	}

	switch cfg.Records.Backend {
	case "sqlite":
		db, err := sqliteDB()
		if err != nil {
			return nil, err
		}
		b.stores.Records = db.Records()
	case "bolt":
		// The graph and locks may still use SQLite at records.path.
		path := cfg.Records.Path
		if filepath.Ext(path) == ".db" {
			path = path[:len(path)-3] + ".bolt"
		}
		rs, err := bolt.Open(resolve(stateDir, path))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, rs.Close)
		b.stores.Records = rs
	case "memory":
		b.stores.Records = memory.NewRecordStore()
	}

	switch cfg.Graph.Backend {
	case "sqlite":
		db, err := sqliteDB()
		if err != nil {
			return nil, err
		}
		b.stores.Graph = db.Graph()
	case "neo4j":
		gs, err := neo4jgraph.Open(ctx, neo4jgraph.Config{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { return gs.Close(context.Background()) })
		b.stores.Graph = gs
	case "memory":
		b.stores.Graph = memory.NewGraphStore()
	}

	switch cfg.Lock.Backend {
	case "sqlite":
		db, err := sqliteDB()
		if err != nil {
			return nil, err
		}
		b.stores.Locker = db.Locker(cfg.Lock.Owner, cfg.Lock.TTL)
	case "redis":
		l, err := redislock.Dial(ctx, cfg.Lock.Addr, cfg.Lock.TTL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, l.Close)
		b.stores.Locker = l
	case "memory":
		b.stores.Locker = memory.NewLocker()
	}

	switch cfg.Vector.Backend {
	case "qdrant":
		vs, err := qdrant.Dial(ctx, qdrant.Config{
			Addr:       cfg.Vector.Addr,
			Collection: cfg.Vector.Collection,
			Dimensions: uint64(cfg.Embedder.Dimensions),
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, vs.Close)
		b.stores.Vectors = vs
	case "memory":
		logger.Println("WARNING: vector.backend is memory; vectors are discarded on exit")
		b.stores.Vectors = memory.NewVectorStore()
	}

	switch cfg.Embedder.Backend {
	case "http":
		b.stores.Embedder = embed.NewHTTPEmbedder(embed.HTTPConfig{
			BaseURL:    cfg.Embedder.BaseURL,
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
			Timeout:    cfg.Embedder.Timeout,
		})
	case "hash":
		b.stores.Embedder = embed.NewHashEmbedder(cfg.Embedder.Dimensions)
	}

	return b, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// newCoordinator opens the configured backends and builds a coordinator.
// Backends are closed when the command finishes.
func (a *app) newCoordinator(ctx context.Context, observer func(coordinator.Transition)) (*coordinator.Coordinator, *backends, error) {
	if err := os.MkdirAll(a.stateDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", a.stateDir, err)
	}

	b, err := openBackends(ctx, a.cfg, a.stateDir, a.logger("[dsync] "))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backends: %w", err)
	}
	a.closers = append(a.closers, b.Close)

	ccfg := a.cfg.Coordinator()
	ccfg.Logger = a.logger("[sync] ")
	ccfg.Observer = observer
	c, err := coordinator.New(b.stores, ccfg)
	if err != nil {
		return nil, nil, err
	}
	return c, b, nil
}
