// Package qdrant implements store.VectorStore on Qdrant's gRPC API.
package qdrant

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	qpb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
)

// pointNamespace scopes the UUIDv5 point ids derived from document ids.
var pointNamespace = uuid.MustParse("6f1c2b7e-3d4a-5e8f-9a0b-1c2d3e4f5a6b")

// PointID returns the deterministic point id for a document id, so that
// upserts for the same document always replace the same point.
func PointID(docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(docID)).String()
}

// Config configures the Qdrant connection.
type Config struct {
	// Addr is the gRPC host:port (default: 127.0.0.1:6334).
	Addr string

	// Collection receives one point per document (default: documents).
	Collection string

	// Dimensions is the vector size used when the collection is created.
	// Zero skips collection creation.
	Dimensions uint64
}

// VectorStore is a Qdrant-backed store.VectorStore.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      qpb.PointsClient
	collections qpb.CollectionsClient
	collection  string
}

// Dial connects to Qdrant and, when cfg.Dimensions is set, makes sure the
// collection exists.
func Dial(ctx context.Context, cfg Config) (*VectorStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6334"
	}
	conn, err := grpc.DialContext(ctx, cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial qdrant: %w", err)
	}

	s := New(qpb.NewPointsClient(conn), qpb.NewCollectionsClient(conn), cfg.Collection)
	s.conn = conn

	if cfg.Dimensions > 0 {
		if err := s.EnsureCollection(ctx, cfg.Dimensions); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps existing clients.
func New(points qpb.PointsClient, collections qpb.CollectionsClient, collection string) *VectorStore {
	if collection == "" {
		collection = "documents"
	}
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the connection opened by Dial.
func (s *VectorStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if missing.
func (s *VectorStore) EnsureCollection(ctx context.Context, dims uint64) error {
	resp, err := s.collections.CollectionExists(ctx, &qpb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &qpb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qpb.VectorsConfig{
			Config: &qpb.VectorsConfig_Params{
				Params: &qpb.VectorParams{
					Size:     dims,
					Distance: qpb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert implements store.VectorStore. It waits for the write to be
// applied so that a returned point id is immediately readable.
func (s *VectorStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) (string, error) {
	pointID := PointID(id)

	fields := make(map[string]*qpb.Value, len(payload))
	for k, v := range payload {
		fields[k] = toValue(v)
	}

	wait := true
	_, err := s.points.Upsert(ctx, &qpb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qpb.PointStruct{
			{
				Id: &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: pointID}},
				Vectors: &qpb.Vectors{
					VectorsOptions: &qpb.Vectors_Vector{Vector: &qpb.Vector{Data: vector}},
				},
				Payload: fields,
			},
		},
	})
	if err != nil {
		return "", classify(fmt.Errorf("qdrant upsert: %w", err))
	}
	return pointID, nil
}

// Delete implements store.VectorStore.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := s.points.Delete(ctx, &qpb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qpb.PointsSelector{
			PointsSelectorOneOf: &qpb.PointsSelector_Points{
				Points: &qpb.PointsIdsList{
					Ids: []*qpb.PointId{{PointIdOptions: &qpb.PointId_Uuid{Uuid: PointID(id)}}},
				},
			},
		},
	})
	if err != nil {
		return classify(fmt.Errorf("qdrant delete: %w", err))
	}
	return nil
}

// classify marks gRPC errors that are worth retrying.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return retry.Transient(err)
	}
	return err
}

func toValue(v any) *qpb.Value {
	switch t := v.(type) {
	case nil:
		return &qpb.Value{Kind: &qpb.Value_NullValue{NullValue: qpb.NullValue_NULL_VALUE}}
	case string:
		return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: t}}
	case bool:
		return &qpb.Value{Kind: &qpb.Value_BoolValue{BoolValue: t}}
	case float64:
		if math.Trunc(t) == t {
			return &qpb.Value{Kind: &qpb.Value_IntegerValue{IntegerValue: int64(t)}}
		}
		return &qpb.Value{Kind: &qpb.Value_DoubleValue{DoubleValue: t}}
	case int:
		return &qpb.Value{Kind: &qpb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &qpb.Value{Kind: &qpb.Value_IntegerValue{IntegerValue: t}}
	case []string:
		out := make([]*qpb.Value, 0, len(t))
		for _, item := range t {
			out = append(out, toValue(item))
		}
		return &qpb.Value{Kind: &qpb.Value_ListValue{ListValue: &qpb.ListValue{Values: out}}}
	case []any:
		out := make([]*qpb.Value, 0, len(t))
		for _, item := range t {
			out = append(out, toValue(item))
		}
		return &qpb.Value{Kind: &qpb.Value_ListValue{ListValue: &qpb.ListValue{Values: out}}}
	case map[string]any:
		out := make(map[string]*qpb.Value, len(t))
		for k, item := range t {
			out[k] = toValue(item)
		}
		return &qpb.Value{Kind: &qpb.Value_StructValue{StructValue: &qpb.Struct{Fields: out}}}
	default:
		return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
	}
}
