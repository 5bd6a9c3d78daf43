package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
)

var removeCmd = &cobra.Command{
	Use:   "remove <file>",
	Short: "Stop tracking a document",
	Long: `Drop a document's record from the metadata table. The file itself
stays on disk and the remote copy is not touched; the document simply
disappears from the next published manifest.`,
	Args: exactArgs(1),
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

// runRemove drops one record from the metadata table.
func runRemove(_ *cobra.Command, args []string) error {
	path, err := resolvePath(args[0])
	if err != nil {
		return err
	}

	start := time.Now()

	eng, cache, err := newEngine()
	if err != nil {
		return err
	}
	defer closeCache(cache)

	store, err := openStore(eng)
	if err != nil {
		return err
	}

	rec, tracked := store.Get(path)
	if !tracked {
		return usageErrorf("%s is not tracked", path)
	}

	ok, err := store.Remove(path)
	if err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	if !ok {
		return usageErrorf("%s is not tracked", path)
	}

	// The digest cache entry is stale once the record is gone.
	if cache != nil {
		_ = cache.Forget(path)
	}

	trackedCount, published := storeCounts(store)
	return render(&output.Result{
		Command: "remove",
		Rows: []output.Row{{
			Identity: rec.Identity.Key(),
			State:    "removed",
			Path:     rec.LocalPath,
			URL:      rec.RemoteURL,
		}},
		Tracked:   trackedCount,
		Published: published,
		Duration:  time.Since(start),
	})
}
