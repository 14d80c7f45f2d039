package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
)

func TestHTTPEmbedder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "hello", req.Input)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "secret", Model: "test-model"})
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedder_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.transient, retry.IsTransient(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPEmbedder_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestHTTPEmbedder_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPEmbedder(HTTPConfig{BaseURL: url}).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the QUICK brown fox!")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "entirely different words")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	empty, err := e.Embed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, float32(1), empty[0])
	assert.Equal(t, 256, NewHashEmbedder(0).Dimensions())
}
