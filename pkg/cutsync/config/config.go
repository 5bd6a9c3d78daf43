package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
	"github.com/jamesainslie/cutsync/pkg/cutsync/types"
)

// ErrUnknownRemoteKind indicates a remote.kind outside http and s3.
var ErrUnknownRemoteKind = errors.New("unknown remote kind")

// HashConfig configures digest computation.
type HashConfig struct {
	// StreamThreshold is the file size above which digests stream from
	// disk, in types.ParseSize format.
	StreamThreshold string `mapstructure:"stream_threshold"`

	// Cache enables the on-disk digest cache.
	Cache bool `mapstructure:"cache"`
}

// SyncConfig configures reconciliation runs.
type SyncConfig struct {
	// Workers bounds the transfer pool. Zero selects an automatic size.
	Workers int `mapstructure:"workers"`

	// Force re-evaluates documents whose hashes already match.
	Force bool `mapstructure:"force"`
}

// RemoteConfig configures the remote document store.
type RemoteConfig struct {
	// Kind selects the transport: "http" or "s3".
	Kind string `mapstructure:"kind"`

	// BaseURL is the upload endpoint for the http transport.
	BaseURL string `mapstructure:"base_url"`

	// Token is the bearer token for the http transport. The
	// CUTSYNC_REMOTE_TOKEN environment variable overrides it.
	Token string `mapstructure:"token"`

	// Timeout bounds a single request.
	Timeout time.Duration `mapstructure:"timeout"`

	// Retries is the number of attempts for transient failures.
	Retries int `mapstructure:"retries"`

	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket"`

	// Prefix is prepended to S3 object keys.
	Prefix string `mapstructure:"prefix"`

	// Region is the S3 region.
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint for compatible stores.
	Endpoint string `mapstructure:"endpoint"`

	// PathStyle forces path-style S3 addressing.
	PathStyle bool `mapstructure:"path_style"`
}

// ScanConfig configures library scanning.
type ScanConfig struct {
	// Exclude lists glob patterns skipped during scans.
	Exclude []string `mapstructure:"exclude"`
}

// WatchConfig configures the filesystem watcher.
type WatchConfig struct {
	// Debounce is the quiet period before a batch of events is handled.
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// JournalConfig configures run history.
type JournalConfig struct {
	// Enabled records a journal entry per sync and publish run.
	Enabled bool `mapstructure:"enabled"`

	// Keep is the number of entries retained by cleanup.
	Keep int `mapstructure:"keep"`
}

// OutputConfig configures command output rendering.
type OutputConfig struct {
	// Format names a registered output formatter, "pretty" by default.
	Format string `mapstructure:"format"`

	// Color enables styled terminal output.
	Color bool `mapstructure:"color"`
}

// Config represents the application configuration.
type Config struct {
	// LibraryPath is the directory holding scanned and downloaded PDFs.
	LibraryPath string `mapstructure:"library_path"`

	// StorePath is the metadata table file.
	StorePath string `mapstructure:"store_path"`

	// ManifestPath is the local manifest snapshot file.
	ManifestPath string `mapstructure:"manifest_path"`

	Hash    HashConfig    `mapstructure:"hash"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Logging LoggingConfig `mapstructure:"logging"`
	Journal JournalConfig `mapstructure:"journal"`
	Output  OutputConfig  `mapstructure:"output"`
}

// Load loads configuration from file and environment variables. When path is
// empty the config file is searched for at:
//   - $XDG_CONFIG_HOME/cutsync/config.yaml
//   - $HOME/.config/cutsync/config.yaml
//
// A missing config file falls back to defaults; an explicit path that cannot
// be read is an error. Environment variables are prefixed with CUTSYNC_
// (e.g. CUTSYNC_REMOTE_TOKEN).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "cutsync"))
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "cutsync"))
	}

	v.SetEnvPrefix("CUTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.LibraryPath, &cfg.StorePath, &cfg.ManifestPath, &cfg.Logging.File} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("library_path", DefaultLibraryPath())
	v.SetDefault("store_path", DefaultStorePath())
	v.SetDefault("manifest_path", DefaultManifestPath())

	v.SetDefault("hash.stream_threshold", DefaultStreamThreshold)
	v.SetDefault("hash.cache", true)

	v.SetDefault("sync.workers", 0)
	v.SetDefault("sync.force", false)

	v.SetDefault("remote.kind", DefaultRemoteKind)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", DefaultRemoteTimeout)
	v.SetDefault("remote.retries", DefaultRemoteRetries)
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.prefix", "")
	v.SetDefault("remote.region", "")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.path_style", false)

	v.SetDefault("scan.exclude", DefaultExclusions)

	v.SetDefault("watch.debounce", DefaultWatchDebounce)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.keep", DefaultJournalKeep)

	v.SetDefault("output.format", DefaultOutputFormat)
	v.SetDefault("output.color", true)
}

// Validate rejects configurations no command could run with.
func (c *Config) Validate() error {
	switch c.Remote.Kind {
	case "http", "s3":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRemoteKind, c.Remote.Kind)
	}

	if _, err := types.ParseSize(c.Hash.StreamThreshold); err != nil {
		return fmt.Errorf("invalid hash.stream_threshold: %w", err)
	}
	if c.Sync.Workers < 0 {
		return fmt.Errorf("sync.workers cannot be negative: %d", c.Sync.Workers)
	}
	if c.Remote.Retries < 0 {
		return fmt.Errorf("remote.retries cannot be negative: %d", c.Remote.Retries)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce cannot be negative: %s", c.Watch.Debounce)
	}
	if c.Journal.Keep < 0 {
		return fmt.Errorf("journal.keep cannot be negative: %d", c.Journal.Keep)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	return nil
}

// StreamThresholdBytes returns the hash streaming threshold in bytes.
func (c *Config) StreamThresholdBytes() (int64, error) {
	return types.ParseSize(c.Hash.StreamThreshold)
}

// LoggerConfig returns the logging package configuration derived from the
// logging section.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level: c.Logging.Level,
		Path:  c.Logging.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  c.Logging.MaxSizeMB,
			MaxBackups: c.Logging.MaxBackups,
			MaxAgeDays: c.Logging.MaxAgeDays,
			Compress:   c.Logging.Compress,
		},
	}
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "cutsync"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "cutsync"), nil
}

// DefaultConfigPath returns the path WriteDefault writes to when given none.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/cutsync/ for the store, manifest, and
// journal files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "cutsync")
}

// StateDir returns $XDG_STATE_HOME/cutsync/ for logs and quarantined files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "cutsync")
}

// CacheDir returns $XDG_CACHE_HOME/cutsync/ for the digest cache.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "cutsync")
}

// DefaultLibraryPath returns ~/Documents/cutsheets.
func DefaultLibraryPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "cutsheets"
	}
	return filepath.Join(homeDir, "Documents", "cutsheets")
}

// DefaultStorePath returns the default metadata table file.
func DefaultStorePath() string {
	return filepath.Join(DataDir(), "store.json")
}

// DefaultManifestPath returns the default manifest snapshot file.
func DefaultManifestPath() string {
	return filepath.Join(DataDir(), "manifest.json")
}

// DefaultJournalDir returns the default journal directory.
func DefaultJournalDir() string {
	return filepath.Join(DataDir(), "journal")
}

// DefaultQuarantineDir returns where corrupt downloads are kept.
func DefaultQuarantineDir() string {
	return filepath.Join(StateDir(), "quarantine")
}

// DefaultDigestCacheDir returns the default digest cache directory.
func DefaultDigestCacheDir() string {
	return filepath.Join(CacheDir(), "digests")
}

// WriteDefault writes a commented default config file to path, or to
// DefaultConfigPath when path is empty. An existing file is left untouched.
func WriteDefault(path string) error {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# cutsync configuration

# Directory holding scanned and downloaded cut sheets
library_path: %s

# Metadata table
store_path: %s

# Local manifest snapshot
manifest_path: %s

hash:
  # Files larger than this are digested by streaming from disk
  stream_threshold: %s
  # Cache digests keyed by path, size, and mtime
  cache: true

sync:
  # Concurrent transfers, 0 picks an automatic size
  workers: 0
  force: false

remote:
  # http | s3
  kind: http
  base_url: ""
  # Bearer token, or set CUTSYNC_REMOTE_TOKEN
  token: ""
  timeout: 60s
  retries: %d
  # S3 settings
  bucket: ""
  prefix: ""
  region: ""
  endpoint: ""
  path_style: false

scan:
  exclude:
    - ".*"
    - "_*"

watch:
  debounce: 2s

logging:
  # debug, info, warn, error
  level: info
  # Log file path (empty means %s)
  file: ""
  max_size_mb: 10
  max_backups: 3
  max_age_days: 30
  compress: true

journal:
  enabled: true
  keep: %d

output:
  # pretty, json, yaml
  format: pretty
  color: true
`, DefaultLibraryPath(), DefaultStorePath(), DefaultManifestPath(),
		DefaultStreamThreshold, DefaultRemoteRetries, logging.DefaultLogPath(),
		DefaultJournalKeep)

	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}
