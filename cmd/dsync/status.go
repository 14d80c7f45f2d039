package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/detect"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status [dir]",
	GroupID: "sync",
	Short:   "Show which documents a sync would embed",
	Long: `Status classifies every document as new, modified or unchanged against its
sync record without embedding or writing anything. Recorded documents that are
missing from dir are listed as stale; 'dsync prune' removes them.

With --since, status instead lists the records committed after a point in time.
The value may be a timestamp or a natural-language expression.

Examples:
  dsync status
  dsync status -v                     # List every pending document
  dsync status --since "2 hours ago"
  dsync status --since yesterday`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		since, _ := cmd.Flags().GetString("since")
		verbose, _ := cmd.Flags().GetBool("verbose")
		out := cmd.OutOrStdout()

		c, b, err := cli.newCoordinator(ctx, nil)
		if err != nil {
			return err
		}

		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			records, err := b.syncedSince(ctx, t)
			if err != nil {
				return err
			}
			printRecords(out, t, records)
			return nil
		}

		docs, err := cli.readDocuments(args, "")
		if err != nil {
			return err
		}
		report, err := c.Status(ctx, docs)
		if err != nil {
			return err
		}
		printStatus(out, report, verbose)
		return nil
	},
}

// parseSince accepts RFC 3339, a plain date, or natural language relative
// to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", s)
	}
	return r.Time, nil
}

func printRecords(w io.Writer, since time.Time, records []schema.SyncRecord) {
	fmt.Fprintln(w, ui.RenderHeader(fmt.Sprintf("Synced since %s", since.Format(time.RFC3339))))
	if len(records) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("  (none)"))
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "  %-32s v%-4d %s %s\n", r.DocumentID, r.SyncVersion,
			shortHash(r.LastHash), ui.RenderMuted(r.LastSyncedAt.Local().Format(time.DateTime)))
	}
}

func printStatus(w io.Writer, report *coordinator.StatusReport, verbose bool) {
	fmt.Fprintln(w, ui.RenderHeader("Sync status"))
	fmt.Fprintf(w, "  Documents: %d\n", len(report.Docs))
	fmt.Fprintf(w, "  Records:   %d\n", report.Records)
	fmt.Fprintf(w, "  Unchanged: %d\n", report.Unchanged)
	fmt.Fprintf(w, "  New:       %s\n", highlight(report.New))
	fmt.Fprintf(w, "  Modified:  %s\n", highlight(report.Modified))
	fmt.Fprintf(w, "  Stale:     %s\n", highlight(len(report.Stale)))
	if report.Invalid > 0 {
		fmt.Fprintf(w, "  Invalid:   %s\n", ui.RenderFail(fmt.Sprint(report.Invalid)))
	}

	if verbose {
		for _, d := range report.Docs {
			switch {
			case d.Err != nil:
				fmt.Fprintf(w, "  %s %s: %v\n", ui.RenderFail("invalid "), d.DocumentID, d.Err)
			case d.Classification == detect.New:
				fmt.Fprintf(w, "  %s %s\n", ui.RenderAccent("new     "), d.DocumentID)
			case d.Classification == detect.Modified:
				fmt.Fprintf(w, "  %s %s %s\n", ui.RenderWarn("modified"), d.DocumentID,
					ui.RenderMuted(shortHash(d.Record.LastHash)+" -> "+shortHash(d.Hash)))
			}
		}
		for _, id := range report.Stale {
			fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("stale   "), id)
		}
	}

	if report.Pending() == 0 && len(report.Stale) == 0 {
		fmt.Fprintln(w, ui.RenderPass("Everything is in sync"))
		return
	}
	fmt.Fprintf(w, "Run 'dsync sync' to embed %d documents", report.Pending())
	if len(report.Stale) > 0 {
		fmt.Fprintf(w, " and 'dsync prune' to remove %d stale ones", len(report.Stale))
	}
	fmt.Fprintln(w)
}

func highlight(n int) string {
	if n == 0 {
		return "0"
	}
	return ui.RenderWarn(fmt.Sprint(n))
}

func shortHash(h schema.ContentHash) string {
	if len(h) > 12 {
		return string(h[:12])
	}
	return string(h)
}

func init() {
	statusCmd.Flags().String("since", "", "list records synced after this time (e.g. \"3 days ago\", 2026-01-02)")
	statusCmd.Flags().BoolP("verbose", "v", false, "list pending and stale documents")

	rootCmd.AddCommand(statusCmd)
}
