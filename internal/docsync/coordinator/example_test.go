package coordinator_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/store/memory"
)

// This example syncs a document twice; the second pass is skipped
// because its content hash did not change.
func ExampleCoordinator_SyncBatch() {
	cfg := coordinator.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)

	c, err := coordinator.New(coordinator.Stores{
		Embedder: memory.NewEmbedder(),
		Vectors:  memory.NewVectorStore(),
		Graph:    memory.NewGraphStore(),
		Records:  memory.NewRecordStore(),
		Locker:   memory.NewLocker(),
	}, cfg)
	if err != nil {
		log.Fatal(err)
	}

	docs := []schema.Document{{ID: "doc1", Content: "hello"}}
	for i := 0; i < 2; i++ {
		results, err := c.SyncBatch(context.Background(), docs)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(results[0].DocumentID, results[0].Action)
	}
	// Output:
	// doc1 embedded_and_written
	// doc1 skipped
}

// This example removes documents that are no longer in the corpus.
func ExampleCoordinator_Prune() {
	cfg := coordinator.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)

	c, err := coordinator.New(coordinator.Stores{
		Embedder: memory.NewEmbedder(),
		Vectors:  memory.NewVectorStore(),
		Graph:    memory.NewGraphStore(),
		Records:  memory.NewRecordStore(),
		Locker:   memory.NewLocker(),
	}, cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if _, err := c.SyncBatch(ctx, []schema.Document{
		{ID: "keep", Content: "still here"},
		{ID: "old", Content: "deleted upstream"},
	}); err != nil {
		log.Fatal(err)
	}

	results, err := c.Prune(ctx, []schema.Document{{ID: "keep", Content: "still here"}})
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range results {
		fmt.Println(r.DocumentID, r.Action)
	}
	// Output:
	// old deleted
}
