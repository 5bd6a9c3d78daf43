package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/digest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/logging"
	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the library and refresh on change",
	Long: `Watch the library directory recursively. Changes to PDF files are
coalesced per quiet period, then the affected tracked documents are
re-hashed. New subdirectories join the watch automatically.

With --sync each batch of refreshed documents is followed by a full
reconciliation pass. Runs until interrupted.`,
	Args: exactArgs(0),
	RunE: runWatch,
}

var watchSync bool

func init() {
	watchCmd.Flags().BoolVar(&watchSync, "sync", false, "run a sync pass after each batch of changes")
	rootCmd.AddCommand(watchCmd)
}

// runWatch watches the library until the context is cancelled.
func runWatch(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	eng, cache, err := newEngine()
	if err != nil {
		return err
	}
	defer closeCache(cache)

	store, err := openStore(eng)
	if err != nil {
		return err
	}

	w, err := watcher.New(watcher.Options{
		Debounce: cfg.Watch.Debounce,
		OnBatch: func(paths []string) {
			handleBatch(ctx, eng, store, paths)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Watch(cfg.LibraryPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cfg.LibraryPath, err)
	}

	printInfo("Watching %s (debounce %s). Press Ctrl-C to stop.", cfg.LibraryPath, cfg.Watch.Debounce)
	w.Run(ctx)
	printInfo("Stopped watching.")
	return nil
}

// handleBatch refreshes the tracked documents behind one batch of
// changed paths, then optionally runs a sync pass.
func handleBatch(ctx context.Context, eng *digest.Engine, store *metastore.Store, paths []string) {
	logger := logging.Get("watch")

	refreshed := 0
	for _, path := range paths {
		rec, ok := store.Get(path)
		if !ok {
			logger.Debug("ignoring untracked path", "path", path)
			continue
		}
		if _, err := store.Refresh(rec.Identity, rec.LocalPath, rec.RemoteURL); err != nil {
			logger.Warn("failed to refresh document", "path", path, "error", err)
			continue
		}
		refreshed++
	}
	printInfo("%d changed path(s), %d tracked document(s) refreshed", len(paths), refreshed)

	if !watchSync || refreshed == 0 {
		return
	}

	res, _, err := syncPass(ctx, eng, store, false)
	if err != nil && !errors.Is(err, context.Canceled) {
		printError("sync failed: %v", err)
		if res == nil {
			return
		}
	}
	if res != nil {
		if rerr := render(res); rerr != nil {
			printError("failed to render sync result: %v", rerr)
		}
	}
}
