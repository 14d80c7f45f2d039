// Package loadtest simulates many agents syncing the same corpus at once.
//
// Every agent is an independent coordinator. They share the vector store,
// the embedder and either an in-memory backend or a SQLite database file
// (records, graph and lease locks), which is how separate processes would
// meet in production. The run checks that per-document locking plus hash
// comparison keeps the embedding count equal to the number of distinct
// content versions, however many agents contend.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/dualsync/internal/docsync/contenthash"
	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/memory"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/sqlite"
)

// Config controls the simulated workload.
type Config struct {
	// Agents is the number of concurrent coordinators (default: 8).
	Agents int

	// Documents is the corpus size (default: 200).
	Documents int

	// Rounds is how many times every agent syncs the corpus (default: 3).
	// Between rounds a fraction of the corpus is edited.
	Rounds int

	// EditFraction is the share of documents edited between rounds (default: 0.1).
	EditFraction float64

	// Concurrency is the per-agent worker count (default: 4).
	Concurrency int

	// EmbedDelay simulates embedding latency, widening the contention window.
	EmbedDelay time.Duration

	// DBPath, when set, backs records, graph and locks with SQLite so that
	// agents contend through the database file. Empty uses memory stores.
	DBPath string

	// Seed makes the edit pattern reproducible (default: 42).
	Seed int64

	// Logger for progress. Nil discards.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Agents:       8,
		Documents:    200,
		Rounds:       3,
		EditFraction: 0.1,
		Concurrency:  4,
		Seed:         42,
	}
}

// LatencyStats captures batch latency percentiles.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalBatches int
}

// Report is the outcome of a run.
type Report struct {
	Agents    int
	Documents int
	Rounds    int
	Elapsed   time.Duration

	// Latency is measured per SyncBatch call.
	Latency *LatencyStats

	// Results aggregates every per-document result of every agent.
	Results coordinator.Summary

	// EmbedCalls counts calls that reached the embedder.
	EmbedCalls int64

	// DistinctVersions is the number of (document, hash) pairs the corpus
	// went through. With no duplicate work EmbedCalls equals it.
	DistinctVersions int

	// Mismatched counts documents whose final record does not carry the
	// final corpus hash.
	Mismatched int
}

// DuplicateEmbeds is the number of embedding calls beyond the minimum.
func (r *Report) DuplicateEmbeds() int64 {
	return r.EmbedCalls - int64(r.DistinctVersions)
}

// Verify returns an error when the run shows duplicate work, failures or
// stale records.
func (r *Report) Verify() error {
	if r.Results.Failed > 0 {
		return fmt.Errorf("%d document syncs failed: %v", r.Results.Failed, r.Results.ByKind)
	}
	if d := r.DuplicateEmbeds(); d != 0 {
		return fmt.Errorf("expected %d embeddings, got %d (%+d)", r.DistinctVersions, r.EmbedCalls, d)
	}
	if r.Mismatched > 0 {
		return fmt.Errorf("%d records do not match the final corpus", r.Mismatched)
	}
	return nil
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Load test: %d agents x %d documents x %d rounds in %v\n", r.Agents, r.Documents, r.Rounds, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Embedded:          %d\n", r.Results.Embedded)
	fmt.Fprintf(w, "  Skipped:           %d\n", r.Results.Skipped)
	fmt.Fprintf(w, "  Failed:            %d\n", r.Results.Failed)
	fmt.Fprintf(w, "  Embed calls:       %d\n", r.EmbedCalls)
	fmt.Fprintf(w, "  Distinct versions: %d\n", r.DistinctVersions)
	fmt.Fprintf(w, "  Duplicate embeds:  %d\n", r.DuplicateEmbeds())
	if s := r.Latency; s != nil {
		fmt.Fprintf(w, "Batch latency (%d batches):\n", s.TotalBatches)
		fmt.Fprintf(w, "  Min:           %v\n", s.Min)
		fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
		fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
		fmt.Fprintf(w, "  P95:           %v\n", s.P95)
		fmt.Fprintf(w, "  P99:           %v\n", s.P99)
		fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	}
}

// backend holds what the agents share.
type backend struct {
	embedder *memory.Embedder
	vectors  *memory.VectorStore
	agents   []coordinator.Stores
	records  store.RecordStore
	closers  []func() error
}

func (b *backend) close() {
	for _, c := range b.closers {
		_ = c()
	}
}

func openBackend(ctx context.Context, cfg Config) (*backend, error) {
	b := &backend{
		embedder: memory.NewEmbedder(),
		vectors:  memory.NewVectorStore(),
	}
	if cfg.EmbedDelay > 0 {
		b.embedder.Delay = func(string) <-chan struct{} {
			ch := make(chan struct{})
			time.AfterFunc(cfg.EmbedDelay, func() { close(ch) })
			return ch
		}
	}

	if cfg.DBPath == "" {
		records, graph, locker := memory.NewRecordStore(), memory.NewGraphStore(), memory.NewLocker()
		b.records = records
		for i := 0; i < cfg.Agents; i++ {
			b.agents = append(b.agents, coordinator.Stores{
				Embedder: b.embedder, Vectors: b.vectors, Graph: graph, Records: records, Locker: locker,
			})
		}
		return b, nil
	}

	// One connection pool per agent, as separate processes would have.
	for i := 0; i < cfg.Agents; i++ {
		db, err := sqlite.OpenContext(ctx, cfg.DBPath)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to open database for agent %d: %w", i, err)
		}
		b.closers = append(b.closers, db.Close)
		if b.records == nil {
			b.records = db.Records()
		}
		b.agents = append(b.agents, coordinator.Stores{
			Embedder: b.embedder,
			Vectors:  b.vectors,
			Graph:    db.Graph(),
			Records:  db.Records(),
			Locker:   db.Locker(fmt.Sprintf("agent-%d", i), 0),
		})
	}
	return b, nil
}

// Run executes the load test. Rounds are separated by a barrier: every
// agent finishes round r before the corpus is edited for round r+1, so
// agents never race an older version against a newer one.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	def := DefaultConfig()
	if cfg.Agents <= 0 {
		cfg.Agents = def.Agents
	}
	if cfg.Documents <= 0 {
		cfg.Documents = def.Documents
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = def.Rounds
	}
	if cfg.EditFraction <= 0 {
		cfg.EditFraction = def.EditFraction
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer b.close()

	agents := make([]*coordinator.Coordinator, cfg.Agents)
	for i, stores := range b.agents {
		ccfg := coordinator.DefaultConfig()
		ccfg.Concurrency = cfg.Concurrency
		ccfg.EmbedConcurrency = cfg.Concurrency
		ccfg.LockTimeout = time.Minute
		ccfg.Logger = log.New(io.Discard, "", 0)
		c, err := coordinator.New(stores, ccfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create agent %d: %w", i, err)
		}
		agents[i] = c
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	corpus := GenerateCorpus(cfg.Documents)
	versions := make(map[string]bool)
	track := func(docs []schema.Document) {
		for _, d := range docs {
			versions[d.ID+"/"+string(contenthash.MustHash(d))] = true
		}
	}
	track(corpus)

	var mu sync.Mutex
	var durations []time.Duration
	var all []schema.SyncResult

	start := time.Now()
	for round := 0; round < cfg.Rounds; round++ {
		if round > 0 {
			corpus = EditCorpus(rng, corpus, cfg.EditFraction, round)
			track(corpus)
		}
		logger.Printf("Round %d: %d agents syncing %d documents", round+1, cfg.Agents, len(corpus))

		g, gctx := errgroup.WithContext(ctx)
		for i, agent := range agents {
			// Agents walk the corpus from different offsets to maximize overlap.
			docs := rotate(corpus, i*len(corpus)/len(agents))
			g.Go(func() error {
				t0 := time.Now()
				results, err := agent.SyncBatch(gctx, docs)
				elapsed := time.Since(t0)
				if err != nil {
					return fmt.Errorf("agent %d round %d: %w", i, round, err)
				}
				mu.Lock()
				durations = append(durations, elapsed)
				all = append(all, results...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	report := &Report{
		Agents:           cfg.Agents,
		Documents:        cfg.Documents,
		Rounds:           cfg.Rounds,
		Elapsed:          time.Since(start),
		Latency:          computeLatencyStats(durations),
		Results:          coordinator.Summarize(all),
		EmbedCalls:       b.embedder.Calls(),
		DistinctVersions: len(versions),
	}

	for _, d := range corpus {
		rec, err := b.records.Get(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s: %w", d.ID, err)
		}
		if rec == nil || rec.LastHash != contenthash.MustHash(d) {
			report.Mismatched++
		}
	}
	return report, nil
}

// GenerateCorpus creates n documents with a few metadata edges each.
func GenerateCorpus(n int) []schema.Document {
	docs := make([]schema.Document, n)
	for i := range docs {
		meta := map[string]string{
			"title":      fmt.Sprintf("Document %d", i),
			"updated_at": time.Unix(int64(i), 0).UTC().Format(time.RFC3339),
		}
		if i > 0 {
			meta["references"] = fmt.Sprintf("load-%05d", i-1)
		}
		if i >= 10 {
			meta["belongs_to"] = fmt.Sprintf("load-%05d", i/10)
		}
		docs[i] = schema.Document{
			ID:       fmt.Sprintf("load-%05d", i),
			Content:  fmt.Sprintf("Load test document %d.\n\nIt exists to be embedded exactly once per version.", i),
			Metadata: meta,
		}
	}
	return docs
}

// EditCorpus returns a copy of docs with a fraction of the contents changed.
// Every document also gets a new volatile timestamp, which must not cause
// re-embedding.
func EditCorpus(rng *rand.Rand, docs []schema.Document, fraction float64, round int) []schema.Document {
	out := make([]schema.Document, len(docs))
	edits := int(float64(len(docs)) * fraction)
	picked := make(map[int]bool, edits)
	for len(picked) < edits && len(picked) < len(docs) {
		picked[rng.Intn(len(docs))] = true
	}

	for i, d := range docs {
		meta := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["updated_at"] = time.Unix(int64(round*len(docs)+i), 0).UTC().Format(time.RFC3339)

		content := d.Content
		if picked[i] {
			content = fmt.Sprintf("%s\n\nRevision %d.", content, round)
		}
		out[i] = schema.Document{ID: d.ID, Content: content, Metadata: meta}
	}
	return out
}

func rotate(docs []schema.Document, k int) []schema.Document {
	if len(docs) == 0 {
		return docs
	}
	k %= len(docs)
	out := make([]schema.Document, 0, len(docs))
	out = append(out, docs[k:]...)
	return append(out, docs[:k]...)
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalBatches: len(durations),
	}
}
