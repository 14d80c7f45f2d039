// Package config loads dsync settings from .dsync/config.toml, DSYNC_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/dualsync/internal/docsync/contenthash"
	"github.com/mschirtzinger/dualsync/internal/docsync/coordinator"
	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
	"github.com/mschirtzinger/dualsync/internal/docsync/schema"
)

// DirName is the per-project state directory.
const DirName = ".dsync"

// FileName is the config file inside DirName.
const FileName = "config.toml"

// EnvPrefix prefixes environment overrides: sync.concurrency is read from
// DSYNC_SYNC_CONCURRENCY.
const EnvPrefix = "DSYNC"

// Config is the full dsync configuration.
type Config struct {
	// DocsDir is the documents directory, relative to the project root.
	DocsDir string `mapstructure:"docs_dir"`

	Sync      SyncConfig      `mapstructure:"sync"`
	Records   RecordsConfig   `mapstructure:"records"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Lock      LockConfig      `mapstructure:"lock"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
}

// SyncConfig mirrors coordinator.Config.
type SyncConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	EmbedConcurrency int           `mapstructure:"embed_concurrency"`
	VolatileKeys     []string      `mapstructure:"volatile_keys"`
	EdgeKeys         []string      `mapstructure:"edge_keys"`
	Retry            RetryConfig   `mapstructure:"retry"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Factor      float64       `mapstructure:"factor"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// RecordsConfig selects the sync record store.
type RecordsConfig struct {
	// Backend is sqlite, bolt or memory.
	Backend string `mapstructure:"backend"`
	// Path is the database file, relative to the state directory.
	Path string `mapstructure:"path"`
}

// VectorConfig selects the vector store.
type VectorConfig struct {
	// Backend is qdrant or memory.
	Backend    string `mapstructure:"backend"`
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
}

// GraphConfig selects the graph store.
type GraphConfig struct {
	// Backend is sqlite, neo4j or memory.
	Backend  string `mapstructure:"backend"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LockConfig selects the locker.
type LockConfig struct {
	// Backend is sqlite, redis or memory.
	Backend string        `mapstructure:"backend"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
	Owner   string        `mapstructure:"owner"`
}

// EmbedderConfig selects the embedder.
type EmbedderConfig struct {
	// Backend is http or hash.
	Backend    string        `mapstructure:"backend"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LogConfig controls log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DashboardConfig controls the daemon's dashboard. Port 0 disables it.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// DaemonConfig controls the watcher daemon.
type DaemonConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
}

// Backend names accepted per component.
var validBackends = map[string][]string{
	"records.backend":  {"sqlite", "bolt", "memory"},
	"vector.backend":   {"qdrant", "memory"},
	"graph.backend":    {"sqlite", "neo4j", "memory"},
	"lock.backend":     {"sqlite", "redis", "memory"},
	"embedder.backend": {"http", "hash"},
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	def := coordinator.DefaultConfig()
	policy := retry.DefaultPolicy()

	v.SetDefault("docs_dir", "docs")

	v.SetDefault("sync.concurrency", def.Concurrency)
	v.SetDefault("sync.lock_timeout", def.LockTimeout)
	v.SetDefault("sync.embed_concurrency", def.EmbedConcurrency)
	v.SetDefault("sync.volatile_keys", contenthash.DefaultVolatileKeys)
	v.SetDefault("sync.edge_keys", schema.DefaultEdgeKeys)
	v.SetDefault("sync.retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("sync.retry.base_delay", policy.BaseDelay)
	v.SetDefault("sync.retry.factor", policy.Factor)
	v.SetDefault("sync.retry.max_delay", policy.MaxDelay)
	v.SetDefault("sync.retry.jitter", policy.Jitter)

	v.SetDefault("records.backend", "sqlite")
	v.SetDefault("records.path", "dsync.db")

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.addr", "127.0.0.1:6334")
	v.SetDefault("vector.collection", "documents")

	v.SetDefault("graph.backend", "sqlite")
	v.SetDefault("graph.uri", "bolt://127.0.0.1:7687")
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")

	v.SetDefault("lock.backend", "sqlite")
	v.SetDefault("lock.addr", "127.0.0.1:6379")
	v.SetDefault("lock.ttl", 2*time.Minute)
	v.SetDefault("lock.owner", "")

	v.SetDefault("embedder.backend", "hash")
	v.SetDefault("embedder.base_url", "http://127.0.0.1:11434")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.model", "nomic-embed-text")
	v.SetDefault("embedder.dimensions", 256)
	v.SetDefault("embedder.timeout", 30*time.Second)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("dashboard.port", 0)

	v.SetDefault("daemon.debounce", 200*time.Millisecond)
	v.SetDefault("daemon.resync_interval", 5*time.Minute)
}

// Load reads path (when it exists) into v and decodes the result.
// A missing file is not an error; defaults and environment still apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("toml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend names and numeric bounds.
func (c *Config) Validate() error {
	got := map[string]string{
		"records.backend":  c.Records.Backend,
		"vector.backend":   c.Vector.Backend,
		"graph.backend":    c.Graph.Backend,
		"lock.backend":     c.Lock.Backend,
		"embedder.backend": c.Embedder.Backend,
	}
	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !contains(validBackends[key], got[key]) {
			return fmt.Errorf("invalid %s %q (must be one of %s)", key, got[key], strings.Join(validBackends[key], ", "))
		}
	}

	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.Sync.EmbedConcurrency < 1 {
		return fmt.Errorf("sync.embed_concurrency must be at least 1")
	}
	if c.Sync.Retry.Jitter < 0 || c.Sync.Retry.Jitter > 1 {
		return fmt.Errorf("sync.retry.jitter must be in [0, 1]")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Coordinator converts the sync section into a coordinator.Config.
func (c *Config) Coordinator() coordinator.Config {
	return coordinator.Config{
		Concurrency:      c.Sync.Concurrency,
		LockTimeout:      c.Sync.LockTimeout,
		EmbedConcurrency: c.Sync.EmbedConcurrency,
		VolatileKeys:     c.Sync.VolatileKeys,
		EdgeKeys:         c.Sync.EdgeKeys,
		Retry: retry.Policy{
			MaxAttempts: c.Sync.Retry.MaxAttempts,
			BaseDelay:   c.Sync.Retry.BaseDelay,
			Factor:      c.Sync.Retry.Factor,
			MaxDelay:    c.Sync.Retry.MaxDelay,
			Jitter:      c.Sync.Retry.Jitter,
		},
	}
}

// FindDir walks up from start looking for a DirName directory and returns
// its path, or "" when none exists.
func FindDir(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// WriteFile writes the settings of v to path as TOML. Durations are
// written in their string form ("10s") so the file stays editable.
func WriteFile(v *viper.Viper, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# dsync configuration. Environment variables DSYNC_<SECTION>_<KEY> override these values.")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(stringifyDurations(v.AllSettings())); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}

func stringifyDurations(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case time.Duration:
			out[k] = t.String()
		case map[string]any:
			out[k] = stringifyDurations(t)
		default:
			out[k] = val
		}
	}
	return out
}
