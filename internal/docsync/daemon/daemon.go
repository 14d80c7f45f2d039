// Package daemon keeps the stores in sync with a documents directory.
//
// The daemon:
// 1. Performs a full sync (SyncBatch + Prune) on start
// 2. Watches the directory tree for document file changes
// 3. Debounces rapid edits and syncs changed files in one batch
// 4. Deletes documents whose files were removed
// 5. Periodically re-runs the full sync to heal missed events
package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// Syncer is the part of the coordinator the daemon drives.
type Syncer interface {
	SyncBatch(ctx context.Context, docs []schema.Document) ([]schema.SyncResult, error)
	Delete(ctx context.Context, ids []string) ([]schema.SyncResult, error)
	Prune(ctx context.Context, keep []schema.Document) ([]schema.SyncResult, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is synced.
	// This batches rapid updates together.
	DebounceInterval time.Duration

	// ResyncInterval is how often to run a full sync. Zero disables it.
	ResyncInterval time.Duration

	// OnResults, when set, receives the results of every batch the daemon runs.
	OnResults func(results []schema.SyncResult)

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		ResyncInterval:   5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching and synchronization.
type Daemon struct {
	syncer Syncer
	dir    string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	// paths maps each known file to the document id it produced, so a
	// removed file can be deleted by id even when the id came from front matter.
	paths   map[string]string
	pathsMu sync.Mutex

	// syncMu serializes full syncs with change batches, so a prune never
	// works from a scan older than a batch that committed after it.
	syncMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(syncer Syncer, dir string) (*Daemon, error) {
	return NewWithConfig(syncer, dir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, dir string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		dir:         abs,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		paths:       make(map[string]string),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start performs the initial full sync, then watches for changes.
// It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.PerformFullSync(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watchTree(d.dir); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.ResyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicResync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. In-flight batches are cancelled;
// their documents are picked up again by the next full sync.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// PerformFullSync syncs every document under the directory and prunes
// recorded documents that no longer have a file.
func (d *Daemon) PerformFullSync(ctx context.Context) error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	d.config.Logger.Println("Performing full sync")

	docs, paths, err := d.scan()
	if err != nil {
		return err
	}

	results, err := d.syncer.SyncBatch(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to sync documents: %w", err)
	}
	d.report(results)

	pruned, err := d.syncer.Prune(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to prune documents: %w", err)
	}
	d.report(pruned)

	d.pathsMu.Lock()
	d.paths = paths
	d.pathsMu.Unlock()

	d.config.Logger.Printf("Full sync complete: %d documents, %d pruned", len(docs), len(pruned))
	return nil
}

// scan reads every document file below the directory.
func (d *Daemon) scan() ([]schema.Document, map[string]string, error) {
	docs := []schema.Document{}
	paths := make(map[string]string)

	err := filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if hidden(path, d.dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !schema.IsDocumentFile(path) {
			return nil
		}
		doc, err := schema.ReadDocumentFile(path)
		if err != nil {
			d.config.Logger.Printf("WARNING: skipping %s: %v", path, err)
			return nil
		}
		paths[path] = doc.ID
		docs = append(docs, *doc)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", d.dir, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, paths, nil
}

// watchTree adds dir and its non-hidden subdirectories to the watcher.
// fsnotify does not recurse on its own.
func (d *Daemon) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if hidden(path, d.dir) {
			return filepath.SkipDir
		}
		if err := d.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func hidden(path, root string) bool {
	return path != root && strings.HasPrefix(filepath.Base(path), ".")
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := d.watchTree(event.Name); err != nil {
						d.config.Logger.Printf("Error watching new directory: %v", err)
					}
					continue
				}
			}

			if !schema.IsDocumentFile(event.Name) {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue, restarting its debounce window.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// takeReady removes and returns the queued paths that have been quiet for
// at least the debounce interval.
func (d *Daemon) takeReady(now time.Time) []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	sort.Strings(ready)
	return ready
}

// processPendingChanges syncs files that have been queued for long enough.
// Present files go into one SyncBatch call; removed files into one Delete.
func (d *Daemon) processPendingChanges() {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	ready := d.takeReady(time.Now())
	if len(ready) == 0 {
		return
	}

	var docs []schema.Document
	var removed []string

	d.pathsMu.Lock()
	for _, path := range ready {
		d.config.Logger.Printf("Processing change: %s", path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			id, ok := d.paths[path]
			if !ok {
				id = schema.IDFromPath(path)
			}
			delete(d.paths, path)
			removed = append(removed, id)
			continue
		}

		doc, err := schema.ReadDocumentFile(path)
		if err != nil {
			d.config.Logger.Printf("Error reading %s: %v", path, err)
			continue
		}
		// An edited front matter id orphans the old document.
		if old, ok := d.paths[path]; ok && old != doc.ID {
			removed = append(removed, old)
		}
		d.paths[path] = doc.ID
		docs = append(docs, *doc)
	}
	removed = d.orphaned(removed)
	d.pathsMu.Unlock()

	if len(docs) > 0 {
		results, err := d.syncer.SyncBatch(d.ctx, docs)
		if err != nil {
			d.config.Logger.Printf("Error syncing batch: %v", err)
		}
		d.report(results)
	}
	if len(removed) > 0 {
		results, err := d.syncer.Delete(d.ctx, removed)
		if err != nil {
			d.config.Logger.Printf("Error deleting documents: %v", err)
		}
		d.report(results)
	}
}

// orphaned filters ids down to those no known file still produces. A file
// renamed with its id intact shows up as a removal plus a new path with the
// same id. Callers hold pathsMu.
func (d *Daemon) orphaned(ids []string) []string {
	live := make(map[string]bool, len(d.paths))
	for _, id := range d.paths {
		live[id] = true
	}
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if live[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// periodicResync re-runs the full sync.
func (d *Daemon) periodicResync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.PerformFullSync(d.ctx); err != nil && d.ctx.Err() == nil {
				d.config.Logger.Printf("Error during resync: %v", err)
			}
		}
	}
}

func (d *Daemon) report(results []schema.SyncResult) {
	for _, r := range results {
		if r.Failed() {
			d.config.Logger.Printf("WARNING: %s failed: %v", r.DocumentID, r.Err)
		}
	}
	if d.config.OnResults != nil && len(results) > 0 {
		d.config.OnResults(results)
	}
}
