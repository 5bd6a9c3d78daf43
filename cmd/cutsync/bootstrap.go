package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/config"
	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/hashcache"
	"github.com/jamesainslie/cutsync/pkg/cutsync/journal"
	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
	"github.com/jamesainslie/cutsync/pkg/cutsync/manifest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
	"github.com/jamesainslie/cutsync/pkg/cutsync/reconcile"
	"github.com/jamesainslie/cutsync/pkg/cutsync/transport"
)

// cfg holds the loaded configuration, populated by initRuntime before
// any non-exempt RunE executes.
var cfg *config.Config

// initRuntime is the PersistentPreRunE hook: it loads configuration,
// applies flag overrides, and initializes logging and the working
// directories every command relies on.
func initRuntime(cmd *cobra.Command) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	applyFlagOverrides(cmd, loaded)

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := ensureDirectories(loaded); err != nil {
		return err
	}
	if err := initLogging(loaded); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	if !loaded.Output.Color {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	cfg = loaded
	return nil
}

// applyFlagOverrides copies explicitly set global flags over the loaded
// configuration. Flags always win over file and environment values.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		c.Output.Format = outputFormat
	}
	if noColor {
		c.Output.Color = false
	}
	if verbose {
		c.Logging.Level = "debug"
	}
}

// ensureDirectories creates the library and the parents of the store and
// manifest files, so first runs work without manual setup.
func ensureDirectories(c *config.Config) error {
	for _, dir := range []string{
		c.LibraryPath,
		filepath.Dir(c.StorePath),
		filepath.Dir(c.ManifestPath),
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// initLogging starts the file logger; --verbose tees debug output onto
// the console as well.
func initLogging(c *config.Config) error {
	lc := c.LoggerConfig()
	if verbose {
		lc.ConsoleLevel = "debug"
	}
	return logging.Init(lc)
}

// newEngine builds the digest engine, attaching the badger-backed digest
// cache when enabled. The returned cache is nil when disabled or broken;
// close it with closeCache when the command is done hashing.
func newEngine() (*digest.Engine, *hashcache.Cache, error) {
	threshold, err := cfg.StreamThresholdBytes()
	if err != nil {
		return nil, nil, err
	}

	opts := digest.Options{StreamThreshold: threshold}
	var cache *hashcache.Cache

	if cfg.Hash.Cache {
		cache, err = hashcache.Open(config.DefaultDigestCacheDir())
		if err != nil {
			// A broken cache degrades to uncached hashing.
			logging.Get("cache").Warn("digest cache unavailable", "error", err)
			cache = nil
		} else {
			opts.Cache = cache
		}
	}

	return digest.New(opts), cache, nil
}

// closeCache closes the digest cache when one is open.
func closeCache(cache *hashcache.Cache) {
	if cache != nil {
		_ = cache.Close()
	}
}

// openStore opens the metadata table at the configured path.
func openStore(eng *digest.Engine) (*metastore.Store, error) {
	store, err := metastore.Open(cfg.StorePath, eng)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return store, nil
}

// openManifests opens the local manifest snapshot at the configured path.
func openManifests() (*manifest.Store, error) {
	store, err := manifest.Open(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest store: %w", err)
	}
	return store, nil
}

// buildTransport constructs the transport selected by the remote
// configuration.
func buildTransport(ctx context.Context) (transport.Transport, error) {
	tr, err := transport.New(ctx, transport.Options{
		Kind:      cfg.Remote.Kind,
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		Timeout:   cfg.Remote.Timeout,
		Retries:   cfg.Remote.Retries,
		Bucket:    cfg.Remote.Bucket,
		Prefix:    cfg.Remote.Prefix,
		Region:    cfg.Remote.Region,
		Endpoint:  cfg.Remote.Endpoint,
		PathStyle: cfg.Remote.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}
	return tr, nil
}

// openJournal opens the run journal in the data directory.
func openJournal() (*journal.Journal, error) {
	return journal.New(config.DefaultJournalDir())
}

// recordJournal appends one journal entry for a finished run. Journal
// failures log a warning and never fail the run itself.
func recordJournal(op journal.Operation, startedAt time.Time, rep *reconcile.Report, manifestPath string) {
	if !cfg.Journal.Enabled {
		return
	}

	logger := logging.Get("journal")
	j, err := openJournal()
	if err != nil {
		logger.Warn("journal unavailable", "error", err)
		return
	}
	entry, err := j.Record(op, startedAt, rep, manifestPath)
	if err != nil {
		logger.Warn("failed to record journal entry", "error", err)
		return
	}
	logger.Debug("journal entry recorded", "id", entry.ID)

	if cfg.Journal.Keep > 0 {
		if _, err := j.Cleanup(cfg.Journal.Keep); err != nil {
			logger.Warn("failed to prune journal", "error", err)
		}
	}
}

// storeCounts returns how many records the table holds and how many of
// them carry a remote URL.
func storeCounts(store *metastore.Store) (tracked, published int) {
	records := store.List()
	for _, rec := range records {
		if rec.RemoteURL != "" {
			published++
		}
	}
	return len(records), published
}

// reportRows converts reconciliation outcomes into output rows.
func reportRows(rep *reconcile.Report) []output.Row {
	rows := make([]output.Row, 0, len(rep.Outcomes))
	for _, out := range rep.Outcomes {
		rows = append(rows, outcomeRow(out))
	}
	return rows
}

// outcomeRow converts one reconciliation outcome into an output row.
func outcomeRow(out reconcile.Outcome) output.Row {
	return output.Row{
		Identity: out.Identity.Key(),
		State:    string(out.Action),
		Path:     out.LocalPath,
		URL:      out.RemoteURL,
		Detail:   out.Detail,
	}
}

// render formats result with the configured formatter and prints it.
func render(result *output.Result) error {
	name := cfg.Output.Format

	var formatter output.Formatter
	if name == "template" {
		if templateStr == "" {
			return usageErrorf("--template is required with --output template")
		}
		formatter = output.NewTemplateFormatter(templateStr)
	} else {
		var err error
		formatter, err = output.Get(name)
		if err != nil {
			return &usageError{err: err}
		}
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, result); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}

// signalContext derives a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resolvePath expands ~ and resolves path to an absolute path.
func resolvePath(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return abs, nil
}
