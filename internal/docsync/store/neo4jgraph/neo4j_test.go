package neo4jgraph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
)

var _ store.GraphStore = (*GraphStore)(nil)

func TestEdgeParams(t *testing.T) {
	params, err := edgeParams("a", []schema.Edge{
		{From: "a", To: "b", Type: "references"},
		{From: "a", To: "b", Type: "references"},
		{From: "a", To: "c", Type: "belongs_to"},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"to": "b", "type": "references"},
		{"to": "c", "type": "belongs_to"},
	}, params)
}

func TestEdgeParams_Invalid(t *testing.T) {
	_, err := edgeParams("a", []schema.Edge{{From: "x", To: "b", Type: "references"}})
	assert.Error(t, err)

	_, err = edgeParams("a", []schema.Edge{{From: "a", To: "", Type: "references"}})
	assert.Error(t, err)
}

func TestNodeProps(t *testing.T) {
	got := nodeProps(map[string]any{
		"s":    "x",
		"i":    3,
		"i64":  int64(4),
		"nil":  nil,
		"list": []string{"a"},
		"odd":  struct{ A int }{1},
	})
	assert.Equal(t, "x", got["s"])
	assert.Equal(t, int64(3), got["i"])
	assert.Equal(t, int64(4), got["i64"])
	assert.NotContains(t, got, "nil")
	assert.Equal(t, []string{"a"}, got["list"])
	assert.Equal(t, "{1}", got["odd"])
}

// TestLiveNeo4j runs against a real server when DSYNC_NEO4J_URI is set.
func TestLiveNeo4j(t *testing.T) {
	uri := os.Getenv("DSYNC_NEO4J_URI")
	if uri == "" {
		t.Skip("DSYNC_NEO4J_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{
		URI:      uri,
		Username: os.Getenv("DSYNC_NEO4J_USER"),
		Password: os.Getenv("DSYNC_NEO4J_PASSWORD"),
	})
	require.NoError(t, err)
	defer s.Close(ctx)

	nid, err := s.UpsertNode(ctx, "live-a", map[string]any{"content_hash": "h1"})
	require.NoError(t, err)
	assert.NotEmpty(t, nid)

	require.NoError(t, s.UpsertEdges(ctx, "live-a", []schema.Edge{{From: "live-a", To: "live-b", Type: "references"}}))
	edges, err := s.Edges(ctx, "live-a")
	require.NoError(t, err)
	assert.Equal(t, []schema.Edge{{From: "live-a", To: "live-b", Type: "references"}}, edges)

	require.NoError(t, s.UpsertEdges(ctx, "live-a", nil))
	edges, err = s.Edges(ctx, "live-a")
	require.NoError(t, err)
	assert.Empty(t, edges)

	require.NoError(t, s.DeleteNode(ctx, "live-a"))
	require.NoError(t, s.DeleteNode(ctx, "live-b"))
}
