// Package embed wraps embedding providers for the sync engine.
//
// Gate bounds concurrent provider calls and retries transient failures.
// HTTPEmbedder talks to an OpenAI-compatible /v1/embeddings endpoint and
// HashEmbedder produces deterministic vectors offline.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
)

// ErrEmptyVector is returned when a provider answers with no dimensions.
var ErrEmptyVector = errors.New("embedder returned an empty vector")

// Gate is a rate-limited, retrying wrapper around an Embedder.
// It is safe for concurrent use.
type Gate struct {
	embedder store.Embedder
	sem      *semaphore.Weighted
	policy   retry.Policy
	logger   *log.Logger

	calls    atomic.Int64
	failures atomic.Int64
}

// NewGate creates a Gate allowing at most concurrency in-flight provider
// calls. concurrency < 1 is treated as 1. If logger is nil, a default logger
// writing to stderr is used.
func NewGate(e store.Embedder, concurrency int, policy retry.Policy, logger *log.Logger) *Gate {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[embed] ", log.LstdFlags)
	}
	return &Gate{
		embedder: e,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		policy:   policy,
		logger:   logger,
	}
}

// Embed implements store.Embedder.
func (g *Gate) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.EmbedDocument(ctx, "", text)
}

// EmbedDocument embeds text on behalf of docID.
//
// Each attempt holds one semaphore slot; the slot is released while
// backing off so that other documents can use the provider. Terminal
// errors and exhausted retries return a syncerr.EmbeddingFailed error;
// context cancellation returns syncerr.Cancelled.
func (g *Gate) EmbedDocument(ctx context.Context, docID, text string) ([]float32, error) {
	var vec []float32
	notify := func(attempt int, err error, delay time.Duration) {
		g.logger.Printf("retrying embedding for %s in %v (attempt %d): %v", docID, delay.Round(time.Millisecond), attempt, err)
	}

	err := retry.Do(ctx, g.policy, notify, func(ctx context.Context) error {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer g.sem.Release(1)

		g.calls.Add(1)
		v, err := g.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return ErrEmptyVector
		}
		vec = v
		return nil
	})
	if err != nil {
		g.failures.Add(1)
		return nil, syncerr.Classify(ctx, syncerr.EmbeddingFailed, docID, "embed", err)
	}
	return vec, nil
}

// Calls returns the number of provider calls made, retries included.
func (g *Gate) Calls() int64 { return g.calls.Load() }

// Failures returns the number of Embed calls that ultimately failed.
func (g *Gate) Failures() int64 { return g.failures.Load() }

func (g *Gate) String() string {
	return fmt.Sprintf("embed.Gate{calls=%d failures=%d}", g.Calls(), g.Failures())
}
