package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/config"
	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/journal"
	"github.com/jamesainslie/cutsync/pkg/cutsync/manifest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
	"github.com/jamesainslie/cutsync/pkg/cutsync/reconcile"
	"github.com/jamesainslie/cutsync/pkg/cutsync/transport"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the library with the remote store",
	Long: `Run one full reconciliation pass: every identity across the metadata
table and the remote manifest is decided by content hash, transfers run
concurrently, and the manifest is republished from the resulting table.

Without --manifest the pass reconciles against the current snapshot.
A pass is resumable: failed documents are retried on the next run,
everything already converged transfers nothing.

Examples:
  cutsync sync
  cutsync sync --dry-run
  cutsync sync --manifest https://docs.example.com/manifest.json
  cutsync sync --manifest /mnt/share/manifest.json --force`,
	Args: exactArgs(0),
	RunE: runSync,
}

var (
	syncForce    bool
	syncManifest string
	syncDryRun   bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "re-decide every identity even when hashes match")
	syncCmd.Flags().StringVar(&syncManifest, "manifest", "", "remote manifest file or URL (default: current snapshot)")
	syncCmd.Flags().BoolVarP(&syncDryRun, "dry-run", "d", false, "print planned actions without transferring")
	rootCmd.AddCommand(syncCmd)
}

// runSync executes a reconciliation pass and maps its outcome onto the
// process exit status.
func runSync(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	res, rep, err := executeSync(ctx, syncDryRun)
	if err != nil {
		if res == nil {
			return err
		}
		if errors.Is(err, context.Canceled) {
			res.Warnings = append(res.Warnings, "interrupted; remaining documents were skipped")
			return render(res)
		}
		if rerr := render(res); rerr != nil {
			return rerr
		}
		return err
	}

	if err := render(res); err != nil {
		return err
	}
	if !syncDryRun && rep.Failed > 0 {
		return &partialFailureError{failed: rep.Failed, total: rep.Total()}
	}
	return nil
}

// executeSync runs one pass (or plans one, for a dry run) and composes
// the printable result. When the pass itself failed the result and
// report are still returned alongside the error so partial progress can
// be rendered.
func executeSync(ctx context.Context, dryRun bool) (*output.Result, *reconcile.Report, error) {
	eng, cache, err := newEngine()
	if err != nil {
		return nil, nil, err
	}
	defer closeCache(cache)

	store, err := openStore(eng)
	if err != nil {
		return nil, nil, err
	}
	return syncPass(ctx, eng, store, dryRun)
}

// syncPass reconciles with already open handles, so watch mode can run
// passes against the store and digest cache it holds.
func syncPass(ctx context.Context, eng *digest.Engine, store *metastore.Store, dryRun bool) (*output.Result, *reconcile.Report, error) {
	start := time.Now()

	manifests, err := openManifests()
	if err != nil {
		return nil, nil, err
	}
	tr, err := buildTransport(ctx)
	if err != nil {
		return nil, nil, err
	}

	remote, source, err := loadRemoteManifest(ctx, tr, manifests, syncManifest, dryRun)
	if err != nil {
		return nil, nil, err
	}

	workers := cfg.Sync.Workers
	printVerbose("Reconciling %d tracked documents against %s (%d manifest entries)",
		len(store.List()), source, remote.Len())

	rec := reconcile.New(store, manifests, tr, eng, reconcile.Options{
		Force:         syncForce || cfg.Sync.Force,
		Workers:       workers,
		LibraryDir:    cfg.LibraryPath,
		QuarantineDir: config.DefaultQuarantineDir(),
	})

	var (
		rep    *reconcile.Report
		runErr error
	)
	if dryRun {
		rep = reconcile.Summarize(rec.Plan(remote))
	} else {
		rep, runErr = rec.Run(ctx, remote)
		recordJournal(journal.OpSync, start, rep, cfg.ManifestPath)
	}

	tracked, published := storeCounts(store)
	res := &output.Result{
		Command:   "sync",
		Source:    source,
		Report:    rep,
		Rows:      reportRows(rep),
		Tracked:   tracked,
		Published: published,
		Duration:  time.Since(start),
		DryRun:    dryRun,
	}
	return res, rep, runErr
}

// loadRemoteManifest resolves the manifest to reconcile against: an
// explicit file or URL when given, otherwise the current snapshot. A
// fetched manifest is installed as the current snapshot unless this is
// a dry run.
func loadRemoteManifest(ctx context.Context, tr transport.Transport, manifests *manifest.Store, src string, dryRun bool) (manifest.Manifest, string, error) {
	if src == "" {
		return manifests.Current(), manifests.Path(), nil
	}

	var (
		m   manifest.Manifest
		err error
	)
	if isRemoteURL(src) {
		var buf bytes.Buffer
		if err := tr.Download(ctx, src, &buf); err != nil {
			return manifest.Manifest{}, "", fmt.Errorf("failed to fetch manifest: %w", err)
		}
		m, err = manifest.Load(&buf)
	} else {
		src, err = resolvePath(src)
		if err == nil {
			m, err = manifest.LoadFile(src)
		}
	}
	if err != nil {
		return manifest.Manifest{}, "", err
	}

	if !dryRun {
		if err := manifests.Replace(m); err != nil {
			return manifest.Manifest{}, "", fmt.Errorf("failed to install manifest: %w", err)
		}
	}
	return m, src, nil
}

// isRemoteURL reports whether src names a remote manifest rather than a
// local file.
func isRemoteURL(src string) bool {
	return strings.HasPrefix(src, "http://") ||
		strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "s3://")
}
