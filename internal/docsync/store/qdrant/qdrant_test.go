package qdrant

import (
	"context"
	"os"
	"testing"
	"time"

	qpb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
)

var _ store.VectorStore = (*VectorStore)(nil)

// fakePoints records requests; unimplemented methods panic via the nil
// embedded interface.
type fakePoints struct {
	qpb.PointsClient
	upserts []*qpb.UpsertPoints
	deletes []*qpb.DeletePoints
	err     error
}

func (f *fakePoints) Upsert(ctx context.Context, in *qpb.UpsertPoints, opts ...grpc.CallOption) (*qpb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	return &qpb.PointsOperationResponse{}, f.err
}

func (f *fakePoints) Delete(ctx context.Context, in *qpb.DeletePoints, opts ...grpc.CallOption) (*qpb.PointsOperationResponse, error) {
	f.deletes = append(f.deletes, in)
	return &qpb.PointsOperationResponse{}, f.err
}

type fakeCollections struct {
	qpb.CollectionsClient
	exists  bool
	created []*qpb.CreateCollection
}

func (f *fakeCollections) CollectionExists(ctx context.Context, in *qpb.CollectionExistsRequest, opts ...grpc.CallOption) (*qpb.CollectionExistsResponse, error) {
	return &qpb.CollectionExistsResponse{Result: &qpb.CollectionExists{Exists: f.exists}}, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *qpb.CreateCollection, opts ...grpc.CallOption) (*qpb.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	f.exists = true
	return &qpb.CollectionOperationResponse{Result: true}, nil
}

func TestPointID_Deterministic(t *testing.T) {
	assert.Equal(t, PointID("doc1"), PointID("doc1"))
	assert.NotEqual(t, PointID("doc1"), PointID("doc2"))
	assert.Len(t, PointID("doc1"), 36)
}

func TestUpsert(t *testing.T) {
	points := &fakePoints{}
	s := New(points, &fakeCollections{}, "docs")

	id, err := s.Upsert(context.Background(), "doc1", []float32{0.1, 0.2}, map[string]any{
		"document_id":  "doc1",
		"content_hash": "abc",
		"sync_version": int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, PointID("doc1"), id)

	require.Len(t, points.upserts, 1)
	req := points.upserts[0]
	assert.Equal(t, "docs", req.CollectionName)
	assert.True(t, req.GetWait())

	p := req.Points[0]
	assert.Equal(t, id, p.GetId().GetUuid())
	assert.Equal(t, []float32{0.1, 0.2}, p.GetVectors().GetVector().GetData())
	assert.Equal(t, "abc", p.Payload["content_hash"].GetStringValue())
	assert.Equal(t, int64(3), p.Payload["sync_version"].GetIntegerValue())
}

func TestDelete(t *testing.T) {
	points := &fakePoints{}
	s := New(points, &fakeCollections{}, "")

	require.NoError(t, s.Delete(context.Background(), "doc1"))
	require.Len(t, points.deletes, 1)
	assert.Equal(t, "documents", points.deletes[0].CollectionName)
	ids := points.deletes[0].GetPoints().GetPoints().GetIds()
	require.Len(t, ids, 1)
	assert.Equal(t, PointID("doc1"), ids[0].GetUuid())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code      codes.Code
		transient bool
	}{
		{codes.Unavailable, true},
		{codes.DeadlineExceeded, true},
		{codes.ResourceExhausted, true},
		{codes.InvalidArgument, false},
		{codes.NotFound, false},
	}
	for _, tt := range tests {
		points := &fakePoints{err: status.Error(tt.code, "boom")}
		_, err := New(points, &fakeCollections{}, "c").Upsert(context.Background(), "d", []float32{1}, nil)
		require.Error(t, err)
		assert.Equal(t, tt.transient, retry.IsTransient(err), "code %v", tt.code)
	}
}

func TestEnsureCollection(t *testing.T) {
	cols := &fakeCollections{}
	s := New(&fakePoints{}, cols, "docs")

	require.NoError(t, s.EnsureCollection(context.Background(), 384))
	require.Len(t, cols.created, 1)
	assert.Equal(t, uint64(384), cols.created[0].GetVectorsConfig().GetParams().GetSize())

	require.NoError(t, s.EnsureCollection(context.Background(), 384))
	assert.Len(t, cols.created, 1, "existing collection is not recreated")
}

func TestToValue(t *testing.T) {
	assert.Equal(t, "x", toValue("x").GetStringValue())
	assert.True(t, toValue(true).GetBoolValue())
	assert.Equal(t, int64(2), toValue(2.0).GetIntegerValue())
	assert.Equal(t, 2.5, toValue(2.5).GetDoubleValue())
	assert.Len(t, toValue([]string{"a", "b"}).GetListValue().GetValues(), 2)
	assert.Equal(t, "v", toValue(map[string]any{"k": "v"}).GetStructValue().GetFields()["k"].GetStringValue())
	assert.NotNil(t, toValue(nil).GetKind())
}

// TestLiveQdrant runs against a real server when DSYNC_QDRANT_ADDR is set.
func TestLiveQdrant(t *testing.T) {
	addr := os.Getenv("DSYNC_QDRANT_ADDR")
	if addr == "" {
		t.Skip("DSYNC_QDRANT_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Dial(ctx, Config{Addr: addr, Collection: "dsync_test", Dimensions: 4})
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Upsert(ctx, "doc1", []float32{1, 0, 0, 0}, map[string]any{"document_id": "doc1"})
	require.NoError(t, err)
	assert.Equal(t, PointID("doc1"), id)
	require.NoError(t, s.Delete(ctx, "doc1"))
}
