package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/dualsync/internal/docsync/config"
	"github.com/mschirtzinger/dualsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Create .dsync/config.toml in the current directory",
	Long: `Init writes a config file with the chosen backends and every other setting at
its default, so the file documents what can be tuned.

Backends default to SQLite for records, graph and locks, an in-process vector
store and the deterministic hash embedder. Use flags or -i to pick others.

Examples:
  dsync init
  dsync init -i
  dsync init --vector qdrant --embedder http --graph neo4j --lock redis`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
			root = wd
		}
		path := filepath.Join(root, config.DirName, config.FileName)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		choices := initChoices{
			DocsDir:    cli.cfg.DocsDir,
			Records:    cli.cfg.Records.Backend,
			Vector:     cli.cfg.Vector.Backend,
			Graph:      cli.cfg.Graph.Backend,
			Lock:       cli.cfg.Lock.Backend,
			Embedder:   cli.cfg.Embedder.Backend,
			Dimensions: strconv.Itoa(cli.cfg.Embedder.Dimensions),
		}
		for flag, dst := range map[string]*string{
			"docs-dir": &choices.DocsDir,
			"records":  &choices.Records,
			"vector":   &choices.Vector,
			"graph":    &choices.Graph,
			"lock":     &choices.Lock,
			"embedder": &choices.Embedder,
		} {
			if cmd.Flags().Changed(flag) {
				*dst, _ = cmd.Flags().GetString(flag)
			}
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := choices.form().Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
				return err
			}
		}

		if err := choices.apply(cli); err != nil {
			return err
		}
		if err := config.WriteFile(cli.v, path); err != nil {
			return err
		}

		docsDir := choices.DocsDir
		if !filepath.IsAbs(docsDir) {
			docsDir = filepath.Join(root, docsDir)
		}
		if err := os.MkdirAll(docsDir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", docsDir, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", ui.RenderPass("Created"), path)
		fmt.Fprintf(out, "  records=%s vector=%s graph=%s lock=%s embedder=%s\n",
			choices.Records, choices.Vector, choices.Graph, choices.Lock, choices.Embedder)
		fmt.Fprintf(out, "Add documents to %s and run 'dsync sync'\n", docsDir)
		return nil
	},
}

// initChoices holds the settings init asks about.
type initChoices struct {
	DocsDir    string
	Records    string
	Vector     string
	Graph      string
	Lock       string
	Embedder   string
	Dimensions string
}

func (c *initChoices) form() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Documents directory").
				Value(&c.DocsDir),
			huh.NewSelect[string]().
				Title("Sync record store").
				Options(huh.NewOptions("sqlite", "bolt", "memory")...).
				Value(&c.Records),
			huh.NewSelect[string]().
				Title("Vector store").
				Options(huh.NewOptions("memory", "qdrant")...).
				Value(&c.Vector),
			huh.NewSelect[string]().
				Title("Graph store").
				Options(huh.NewOptions("sqlite", "neo4j", "memory")...).
				Value(&c.Graph),
			huh.NewSelect[string]().
				Title("Document locks").
				Options(huh.NewOptions("sqlite", "redis", "memory")...).
				Value(&c.Lock),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Embedder").
				Description("hash is deterministic and offline; http calls an embedding service").
				Options(huh.NewOptions("hash", "http")...).
				Value(&c.Embedder),
			huh.NewInput().
				Title("Vector dimensions").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("must be a positive integer")
					}
					return nil
				}).
				Value(&c.Dimensions),
		),
	)
}

// apply stores the choices in the app's viper instance and validates the
// resulting config.
func (c *initChoices) apply(a *app) error {
	dims, err := strconv.Atoi(c.Dimensions)
	if err != nil || dims < 1 {
		return fmt.Errorf("invalid dimensions %q", c.Dimensions)
	}
	a.v.Set("docs_dir", c.DocsDir)
	a.v.Set("records.backend", c.Records)
	a.v.Set("vector.backend", c.Vector)
	a.v.Set("graph.backend", c.Graph)
	a.v.Set("lock.backend", c.Lock)
	a.v.Set("embedder.backend", c.Embedder)
	a.v.Set("embedder.dimensions", dims)

	cfg, err := config.Load(a.v, "")
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func init() {
	initCmd.Flags().BoolP("interactive", "i", false, "choose backends interactively")
	initCmd.Flags().String("docs-dir", "", "documents directory relative to the project root")
	initCmd.Flags().String("records", "", "record store: sqlite, bolt or memory")
	initCmd.Flags().String("vector", "", "vector store: memory or qdrant")
	initCmd.Flags().String("graph", "", "graph store: sqlite, neo4j or memory")
	initCmd.Flags().String("lock", "", "locker: sqlite, redis or memory")
	initCmd.Flags().String("embedder", "", "embedder: hash or http")

	rootCmd.AddCommand(initCmd)
}
