package memory

import (
	"context"
	"crypto/sha256"
	"sync"
	"sync/atomic"
)

// Embedder is a counting store.Embedder producing small deterministic vectors.
type Embedder struct {
	// Fail, when set, is consulted before every call; a non-nil return is
	// returned as the embedding error.
	Fail func(text string) error

	// Delay, when set, is waited before answering (or until ctx ends).
	Delay func(text string) <-chan struct{}

	calls atomic.Int64

	mu    sync.Mutex
	texts map[string]int
}

// NewEmbedder creates an Embedder.
func NewEmbedder() *Embedder {
	return &Embedder{texts: make(map[string]int)}
}

// Embed implements store.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.texts[text]++
	e.mu.Unlock()

	if e.Delay != nil {
		select {
		case <-e.Delay(text):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Fail != nil {
		if err := e.Fail(text); err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255
	}
	return vec, nil
}

// Calls returns the total number of Embed calls.
func (e *Embedder) Calls() int64 { return e.calls.Load() }

// CallsFor returns how many times text was embedded.
func (e *Embedder) CallsFor(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts[text]
}
