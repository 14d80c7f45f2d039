package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
)

var (
	_ store.VectorStore = (*VectorStore)(nil)
	_ store.GraphStore  = (*GraphStore)(nil)
	_ store.RecordStore = (*RecordStore)(nil)
	_ store.Locker      = (*Locker)(nil)
	_ store.Embedder    = (*Embedder)(nil)
)

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	s := NewVectorStore()

	id, err := s.Upsert(ctx, "a", []float32{1, 2}, map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "vec-a", id)

	_, err = s.Upsert(ctx, "a", []float32{3}, nil)
	require.NoError(t, err)
	e, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{3}, e.Vector)
	assert.Equal(t, 1, s.Len())

	s.FailUpsert = func(string) error { return errors.New("down") }
	_, err = s.Upsert(ctx, "b", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, int64(3), s.Upserts())

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "missing"))
	assert.Equal(t, 0, s.Len())
}

func TestGraphStore(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore()

	_, err := g.UpsertNode(ctx, "a", map[string]any{"content_hash": "h"})
	require.NoError(t, err)
	edges := []schema.Edge{{From: "a", To: "b", Type: "references"}}
	require.NoError(t, g.UpsertEdges(ctx, "a", edges))
	assert.Equal(t, edges, g.Edges("a"))

	require.NoError(t, g.UpsertEdges(ctx, "a", nil))
	assert.Empty(t, g.Edges("a"))

	props, ok := g.Node("a")
	require.True(t, ok)
	assert.Equal(t, "h", props["content_hash"])

	require.NoError(t, g.DeleteNode(ctx, "a"))
	_, ok = g.Node("a")
	assert.False(t, ok)
}

func TestRecordStore(t *testing.T) {
	ctx := context.Background()
	r := NewRecordStore()

	rec, err := r.Get(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, r.Put(ctx, schema.SyncRecord{DocumentID: "b", SyncVersion: 1}))
	require.NoError(t, r.Put(ctx, schema.SyncRecord{DocumentID: "a", SyncVersion: 2}))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].DocumentID)

	// Returned records are copies.
	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	got.SyncVersion = 99
	again, _ := r.Get(ctx, "a")
	assert.Equal(t, int64(2), again.SyncVersion)

	require.NoError(t, r.Delete(ctx, "a"))
	rec, _ = r.Get(ctx, "a")
	assert.Nil(t, rec)
}

func TestLocker_Timeout(t *testing.T) {
	ctx := context.Background()
	l := NewLocker()

	h, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, l.Held("k"))

	_, err = l.Acquire(ctx, "k", 20*time.Millisecond)
	assert.ErrorIs(t, err, store.ErrLockTimeout)

	require.NoError(t, l.Release(ctx, h))
	assert.ErrorIs(t, l.Release(ctx, h), store.ErrLockNotHeld)

	h2, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, h2))
}

func TestLocker_Cancel(t *testing.T) {
	l := NewLocker()
	h, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer l.Release(context.Background(), h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocker_MutualExclusion(t *testing.T) {
	l := NewLocker()
	var inside, maxInside atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := l.Acquire(context.Background(), "k", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, l.Release(context.Background(), h))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestEmbedder(t *testing.T) {
	e := NewEmbedder()
	v1, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(2), e.Calls())
	assert.Equal(t, 2, e.CallsFor("hello"))

	e.Fail = func(text string) error { return errors.New("quota") }
	_, err = e.Embed(context.Background(), "x")
	assert.EqualError(t, err, "quota")
}
