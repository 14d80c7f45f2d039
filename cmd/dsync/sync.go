package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/docsync/syncerr"
	"github.com/mschirtzinger/dualsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [dir]",
	GroupID: "sync",
	Short:   "Sync changed documents into the vector and graph stores",
	Long: `Sync reads every document under dir (default: docs_dir from the config) and
brings both stores up to date.

Documents whose content hash matches their sync record are skipped without
calling the embedder. New and modified documents are embedded once, written to
the vector store and the graph store, and then recorded.

Per-document failures do not stop the batch. The command exits non-zero when
any document failed.

Examples:
  dsync sync                        # Sync docs_dir
  dsync sync ./notes                # Sync another directory
  dsync sync --jsonl export.jsonl   # Sync documents from a JSONL file
  dsync sync --prune                # Also remove documents that disappeared`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonlPath, _ := cmd.Flags().GetString("jsonl")
		prune, _ := cmd.Flags().GetBool("prune")
		jsonOut, _ := cmd.Flags().GetBool("json")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		docs, err := cli.readDocuments(args, jsonlPath)
		if err != nil {
			return err
		}

		c, _, err := cli.newCoordinator(ctx, nil)
		if err != nil {
			return err
		}

		results, err := c.SyncBatch(ctx, docs)
		if err != nil {
			return err
		}
		if prune {
			pruned, err := c.Prune(ctx, docs)
			if err != nil {
				return err
			}
			results = append(results, pruned...)
		}

		out := cmd.OutOrStdout()
		if jsonOut {
			if err := writeResultsJSON(out, results); err != nil {
				return err
			}
		} else {
			printResults(out, results)
		}

		if sum := coordinator.Summarize(results); sum.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", sum.Failed, sum.Total)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:     "prune [dir]",
	GroupID: "sync",
	Short:   "Remove documents that no longer exist from both stores",
	Long: `Prune deletes the vector entry, graph node and sync record of every recorded
document that is not present in dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		docs, err := cli.readDocuments(args, "")
		if err != nil {
			return err
		}
		c, _, err := cli.newCoordinator(ctx, nil)
		if err != nil {
			return err
		}
		results, err := c.Prune(ctx, docs)
		if err != nil {
			return err
		}

		printResults(cmd.OutOrStdout(), results)
		if sum := coordinator.Summarize(results); sum.Failed > 0 {
			return fmt.Errorf("%d of %d deletions failed", sum.Failed, sum.Total)
		}
		return nil
	},
}

// readDocuments loads the batch from a JSONL file when given, otherwise
// from the documents directory.
func (a *app) readDocuments(args []string, jsonlPath string) ([]schema.Document, error) {
	if jsonlPath != "" {
		return schema.ReadDocumentsJSONL(jsonlPath)
	}
	dir := a.docsDir(args)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("documents directory %s: %w", dir, err)
	}
	docs, err := schema.ReadAllDocumentFiles(dir)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []schema.Document{}
	}
	return docs, nil
}

func printResults(w io.Writer, results []schema.SyncResult) {
	for _, r := range results {
		switch r.Action {
		case schema.ActionEmbeddedAndWritten:
			fmt.Fprintf(w, "%s %s %s\n", ui.RenderPass("synced "), r.DocumentID, ui.RenderMuted(fmt.Sprintf("v%d", r.SyncVersion)))
		case schema.ActionDeleted:
			fmt.Fprintf(w, "%s %s\n", ui.RenderWarn("deleted"), r.DocumentID)
		case schema.ActionFailed:
			fmt.Fprintf(w, "%s %s: %v\n", ui.RenderFail("failed "), r.DocumentID, r.Err)
		}
	}

	sum := coordinator.Summarize(results)
	line := fmt.Sprintf("%d documents: %d embedded, %d skipped, %d deleted, %d failed",
		sum.Total, sum.Embedded, sum.Skipped, sum.Deleted, sum.Failed)
	if sum.Failed > 0 {
		fmt.Fprintln(w, ui.RenderFail(line))
		kinds := make([]string, 0, len(sum.ByKind))
		for k := range sum.ByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", k, sum.ByKind[syncerr.Kind(k)])
		}
		return
	}
	fmt.Fprintln(w, ui.RenderPass(line))
}

// resultJSON is the --json form of a SyncResult.
type resultJSON struct {
	DocumentID  string `json:"document_id"`
	Action      string `json:"action"`
	Hash        string `json:"hash,omitempty"`
	SyncVersion int64  `json:"sync_version,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        string `json:"error_kind,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func writeResultsJSON(w io.Writer, results []schema.SyncResult) error {
	out := struct {
		Results []resultJSON        `json:"results"`
		Summary coordinator.Summary `json:"summary"`
	}{
		Results: make([]resultJSON, len(results)),
		Summary: coordinator.Summarize(results),
	}
	for i, r := range results {
		out.Results[i] = resultJSON{
			DocumentID:  r.DocumentID,
			Action:      string(r.Action),
			Hash:        string(r.Hash),
			SyncVersion: r.SyncVersion,
			DurationMS:  r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			out.Results[i].Error = r.Err.Error()
			out.Results[i].Kind = string(syncerr.KindOf(r.Err))
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	syncCmd.Flags().String("jsonl", "", "read documents from a JSONL file instead of a directory")
	syncCmd.Flags().Bool("prune", false, "also delete recorded documents missing from the batch")
	syncCmd.Flags().Bool("json", false, "print results as JSON")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pruneCmd)
}
