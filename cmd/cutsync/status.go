package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
)

var statusCmd = &cobra.Command{
	Use:   "status [file]",
	Short: "Show per-document state",
	Long: `Report the state of tracked documents without touching the remote:

  clean        file matches its record and is published
  changed      file content differs from the recorded hash
  missing      file no longer exists on disk
  unpublished  file has never been uploaded

With a file argument only that document is reported.`,
	Args: maxArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// runStatus reports the state of one or all tracked documents.
func runStatus(_ *cobra.Command, args []string) error {
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
		rows = append(rows, statusRow(store, rec))
	}

	tracked, published := storeCounts(store)
	return render(&output.Result{
		Command:   "status",
		Source:    cfg.LibraryPath,
		Rows:      rows,
		Tracked:   tracked,
		Published: published,
		Duration:  time.Since(start),
	})
}

// statusRow classifies one record: missing, changed, unpublished, or
// clean, in that order of precedence.
func statusRow(store *metastore.Store, rec metastore.Record) output.Row {
	row := output.Row{
		Identity: rec.Identity.Key(),
		Size:     rec.ByteSize,
		Path:     rec.LocalPath,
		URL:      rec.RemoteURL,
	}

	changed, err := store.HasChanged(rec.LocalPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		row.State = "missing"
	case err != nil:
		row.State = "failed"
		row.Detail = err.Error()
	case changed:
		row.State = "changed"
		row.Detail = "run 'cutsync refresh' to update the record"
	case rec.RemoteURL == "":
		row.State = "unpublished"
	default:
		row.State = "clean"
	}
	return row
}
