package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
	"github.com/mschirtzinger/dualsync/internal/ui"
)

// run executes dsync with args against a fresh app and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	ui.SetColor(false)
	cli = newApp()
	defer cli.close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--quiet"))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default; cobra keeps flag state
// between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeDoc(t *testing.T, dir, id, content string, meta map[string]string) {
	t.Helper()
	_, err := schema.WriteDocumentFile(dir, &schema.Document{ID: id, Content: content, Metadata: meta})
	require.NoError(t, err)
}

func TestInitWritesConfig(t *testing.T) {
	root := t.TempDir()

	out, err := run(t, "init", "--root", root, "--records", "bolt", "--docs-dir", "notes")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	data, err := os.ReadFile(filepath.Join(root, ".dsync", "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `backend = "bolt"`)
	assert.Contains(t, string(data), `docs_dir = "notes"`)
	assert.DirExists(t, filepath.Join(root, "notes"))

	_, err = run(t, "init", "--root", root)
	assert.Error(t, err, "init must not overwrite an existing config")
}

func TestInitRejectsUnknownBackend(t *testing.T) {
	_, err := run(t, "init", "--root", t.TempDir(), "--vector", "pinecone")
	assert.ErrorContains(t, err, "vector.backend")
}

func TestSyncStatusPrune(t *testing.T) {
	root := t.TempDir()
	_, err := run(t, "init", "--root", root)
	require.NoError(t, err)

	docs := filepath.Join(root, "docs")
	writeDoc(t, docs, "a", "alpha", map[string]string{"references": "b"})
	writeDoc(t, docs, "b", "beta", nil)

	out, err := run(t, "status", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "New:       2")

	out, err = run(t, "sync", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "2 documents: 2 embedded, 0 skipped, 0 deleted, 0 failed")

	out, err = run(t, "sync", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "2 documents: 0 embedded, 2 skipped, 0 deleted, 0 failed")

	writeDoc(t, docs, "b", "beta v2", nil)
	out, err = run(t, "status", "--root", root, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Modified:  1")
	assert.Contains(t, out, "modified b")

	require.NoError(t, os.Remove(filepath.Join(docs, "a.md")))
	out, err = run(t, "status", "--root", root, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "stale    a")

	out, err = run(t, "prune", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted a")

	out, err = run(t, "status", "--root", root, "--since", "1 hour ago")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced since")
	assert.NotContains(t, out, "(none)")
}

func TestSyncJSONL(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DSYNC_RECORDS_BACKEND", "memory")
	t.Setenv("DSYNC_GRAPH_BACKEND", "memory")
	t.Setenv("DSYNC_LOCK_BACKEND", "memory")

	path := filepath.Join(root, "docs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"id":"x","content":"one"}`+"\n"+
			`{"id":"y","content":"two","metadata":{"belongs_to":"x"}}`+"\n"), 0644))

	out, err := run(t, "sync", "--root", root, "--jsonl", path, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"action": "embedded_and_written"`)
	assert.Contains(t, out, `"embedded": 2`)
}

func TestLoadtestCommand(t *testing.T) {
	out, err := run(t, "loadtest", "--root", t.TempDir(), "--agents", "3", "--docs", "20", "--rounds", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	got, err := parseSince("2026-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2026-03-09T12:30:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 12, 30, 0, 0, time.UTC), got)

	got, err = parseSince("2 hours ago", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-2*time.Hour), got, time.Minute)

	_, err = parseSince("the heat death of the universe", now)
	assert.Error(t, err)
}
