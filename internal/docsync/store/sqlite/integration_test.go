package sqlite

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/memory"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// TestCoordinator_TwoAgentsShareDatabase runs two coordinators that only
// share the SQLite file, the way two agent processes would.
func TestCoordinator_TwoAgentsShareDatabase(t *testing.T) {
	db := openTestDB(t)
	embedder := memory.NewEmbedder()
	vectors := memory.NewVectorStore()

	newAgent := func(name string) *coordinator.Coordinator {
		cfg := coordinator.DefaultConfig()
		cfg.LockTimeout = 5 * time.Second
		cfg.Logger = log.New(io.Discard, "", 0)
		c, err := coordinator.New(coordinator.Stores{
			Embedder: embedder,
			Vectors:  vectors,
			Graph:    db.Graph(),
			Records:  db.Records(),
			Locker:   db.Locker(name, time.Minute),
		}, cfg)
		if err != nil {
			t.Fatalf("failed to create coordinator: %v", err)
		}
		return c
	}

	docs := []schema.Document{
		{ID: "a", Content: "alpha", Metadata: map[string]string{"references": "b"}},
		{ID: "b", Content: "beta"},
	}

	ctx := context.Background()
	first, err := newAgent("agent-1").SyncBatch(ctx, docs)
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	for _, r := range first {
		if r.Action != schema.ActionEmbeddedAndWritten {
			t.Fatalf("doc %s: expected embedded_and_written, got %s (%v)", r.DocumentID, r.Action, r.Err)
		}
	}

	second, err := newAgent("agent-2").SyncBatch(ctx, docs)
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	for _, r := range second {
		if r.Action != schema.ActionSkipped {
			t.Errorf("doc %s: expected skipped, got %s", r.DocumentID, r.Action)
		}
	}
	if embedder.Calls() != 2 {
		t.Errorf("expected 2 embedding calls, got %d", embedder.Calls())
	}

	edges, err := db.Graph().Edges(ctx, "a")
	if err != nil || len(edges) != 1 || edges[0].To != "b" {
		t.Errorf("unexpected edges: %v (err=%v)", edges, err)
	}
	props, _ := db.Graph().Node(ctx, "a")
	if props["vector_point_id"] != "vec-a" {
		t.Errorf("node missing vector back-reference: %v", props)
	}
}

// TestCoordinator_LeaseOutlivesTTL embeds for several lease lifetimes; the
// holder's renewals must keep a second agent out until it commits.
func TestCoordinator_LeaseOutlivesTTL(t *testing.T) {
	db := openTestDB(t)
	embedder := memory.NewEmbedder()
	embedder.Delay = func(string) <-chan struct{} {
		ch := make(chan struct{})
		time.AfterFunc(800*time.Millisecond, func() { close(ch) })
		return ch
	}

	newAgent := func(name string, lockTimeout time.Duration) *coordinator.Coordinator {
		cfg := coordinator.DefaultConfig()
		cfg.LockTimeout = lockTimeout
		cfg.Logger = log.New(io.Discard, "", 0)
		c, err := coordinator.New(coordinator.Stores{
			Embedder: embedder,
			Vectors:  memory.NewVectorStore(),
			Graph:    db.Graph(),
			Records:  db.Records(),
			Locker:   db.Locker(name, 200*time.Millisecond),
		}, cfg)
		if err != nil {
			t.Fatalf("failed to create coordinator: %v", err)
		}
		return c
	}

	d := schema.Document{ID: "slow", Content: "takes four leases to embed"}
	ctx := context.Background()

	first := make(chan schema.SyncResult, 1)
	go func() {
		res, err := newAgent("agent-1", time.Second).SyncBatch(ctx, []schema.Document{d})
		if err != nil {
			t.Errorf("SyncBatch failed: %v", err)
			first <- schema.SyncResult{}
			return
		}
		first <- res[0]
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		owner, err := db.Locker("observer", 0).Holder(ctx, store.LockKey("slow"))
		if err != nil {
			t.Fatalf("Holder failed: %v", err)
		}
		if owner == "agent-1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first agent never took the lock")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Past the first lease's expiry; only renewal keeps agent-1 the holder.
	time.Sleep(250 * time.Millisecond)
	res, err := newAgent("agent-2", 300*time.Millisecond).SyncBatch(ctx, []schema.Document{d})
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if kind := syncerr.KindOf(res[0].Err); res[0].Action != schema.ActionFailed || kind != syncerr.LockTimeout {
		t.Fatalf("expected second agent to time out on the lock, got %s (%v)", res[0].Action, res[0].Err)
	}

	r := <-first
	if r.Action != schema.ActionEmbeddedAndWritten {
		t.Fatalf("expected first agent to commit, got %s (%v)", r.Action, r.Err)
	}
	rec, err := db.Records().Get(ctx, "slow")
	if err != nil || rec == nil || rec.SyncVersion != 1 {
		t.Fatalf("unexpected record: %+v (err=%v)", rec, err)
	}
}
