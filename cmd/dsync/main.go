// Command dsync keeps a vector store and a graph store in sync with a
// directory of documents, embedding only what changed.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/dualsync/internal/docsync/config"
)

// app is the state shared by all commands after PersistentPreRunE.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	root     string // project root containing .dsync
	stateDir string // <root>/.dsync
	logOut   io.Writer
	closers  []func() error
}

var cli = newApp()

type flagBinding struct {
	key  string
	flag *pflag.Flag
}

var flagBindings []flagBinding

// bindFlag makes flag override the config key when it is set.
func bindFlag(key string, flag *pflag.Flag) {
	flagBindings = append(flagBindings, flagBinding{key, flag})
	_ = cli.v.BindPFlag(key, flag)
}

func newApp() *app {
	a := &app{v: config.New(), logOut: os.Stderr}
	for _, b := range flagBindings {
		_ = a.v.BindPFlag(b.key, b.flag)
	}
	return a
}

func (a *app) logger(prefix string) *log.Logger {
	return log.New(a.logOut, prefix, log.LstdFlags)
}

// docsDir resolves the documents directory: an explicit argument wins,
// then docs_dir relative to the project root.
func (a *app) docsDir(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if filepath.IsAbs(a.cfg.DocsDir) {
		return a.cfg.DocsDir
	}
	return filepath.Join(a.root, a.cfg.DocsDir)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

var rootCmd = &cobra.Command{
	Use:   "dsync",
	Short: "Hash-diff incremental sync of documents into vector and graph stores",
	Long: `dsync keeps a vector index and a graph index consistent with a document corpus.

Each document's content hash is compared to the hash recorded at its last
successful sync. Unchanged documents are skipped without calling the embedder;
new and modified documents are embedded once and written to both stores.

Configuration is read from .dsync/config.toml (see 'dsync init'), overridden by
DSYNC_* environment variables and then by flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cli.load(cmd)
	},
}

func (a *app) load(cmd *cobra.Command) error {
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		if found := config.FindDir(wd); found != "" {
			root = filepath.Dir(found)
		} else {
			root = wd
		}
	}
	a.root = root
	a.stateDir = filepath.Join(root, config.DirName)

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = filepath.Join(a.stateDir, config.FileName)
	}

	cfg, err := config.Load(a.v, configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logOut = os.Stderr
	if cfg.Log.File != "" {
		path := cfg.Log.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.stateDir, path)
		}
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		a.logOut = rotating
		a.closers = append(a.closers, rotating.Close)
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet && cfg.Log.File == "" {
		a.logOut = io.Discard
	}
	return nil
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("root", "", "project root (default: nearest parent with a .dsync directory)")
	flags.String("config", "", "config file (default: <root>/.dsync/config.toml)")
	flags.String("log-file", "", "write logs to this file with rotation instead of stderr")
	flags.BoolP("quiet", "q", false, "discard log output")
	flags.Int("concurrency", 0, "documents processed in parallel")
	flags.Duration("lock-timeout", 0, "maximum wait for a document lock")

	bindFlag("log.file", flags.Lookup("log-file"))
	bindFlag("sync.concurrency", flags.Lookup("concurrency"))
	bindFlag("sync.lock_timeout", flags.Lookup("lock-timeout"))
}

func main() {
	err := rootCmd.Execute()
	cli.close()
	if err != nil {
		os.Exit(1)
	}
}
