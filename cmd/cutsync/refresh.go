package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [file]",
	Short: "Re-digest tracked documents",
	Long: `Re-hash tracked documents and update their records. Unchanged files
keep their record untouched; refresh is idempotent.

With a file argument only that document is refreshed. With --all every
tracked document is re-hashed. Missing files are reported, not removed.`,
	Args: maxArgs(1),
	RunE: runRefresh,
}

var refreshAll bool

func init() {
	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "refresh every tracked document")
	rootCmd.AddCommand(refreshCmd)
}

// runRefresh re-digests one or all tracked documents.
func runRefresh(_ *cobra.Command, args []string) error {
	if len(args) == 0 && !refreshAll {
		return usageErrorf("specify a file or --all")
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

	var targets []metastore.Record
	if len(args) > 0 {
		path, err := resolvePath(args[0])
		if err != nil {
			return err
		}
		rec, ok := store.Get(path)
		if !ok {
			return usageErrorf("%s is not tracked (use 'cutsync add')", path)
		}
		targets = []metastore.Record{rec}
	} else {
		targets = store.List()
	}

	rows := make([]output.Row, 0, len(targets))
	for _, rec := range targets {
		rows = append(rows, refreshRow(store, rec))
	}

	tracked, published := storeCounts(store)
	return render(&output.Result{
		Command:   "refresh",
		Rows:      rows,
		Tracked:   tracked,
		Published: published,
		Duration:  time.Since(start),
	})
}

// refreshRow re-digests one record and reports what happened to it.
func refreshRow(store *metastore.Store, rec metastore.Record) output.Row {
	row := output.Row{
		Identity: rec.Identity.Key(),
		Path:     rec.LocalPath,
		URL:      rec.RemoteURL,
	}

	updated, err := store.Refresh(rec.Identity, rec.LocalPath, rec.RemoteURL)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		row.State = "missing"
		row.Detail = "file no longer exists"
	case err != nil:
		row.State = "failed"
		row.Detail = err.Error()
	case updated.ContentHash != rec.ContentHash:
		row.State = "changed"
		row.Size = updated.ByteSize
	default:
		row.State = "clean"
		row.Size = updated.ByteSize
	}
	return row
}
