package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/journal"
	"github.com/jamesainslie/cutsync/pkg/cutsync/manifest"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Write a manifest snapshot",
	Long: `Build a manifest from the metadata table and write it as the current
snapshot. Only records with a remote URL are advertised; documents that
have never been uploaded are listed as unpublished and left out.

With -o the manifest is written to the given file instead of the
configured manifest path.`,
	Args: exactArgs(0),
	RunE: runPublish,
}

var publishOut string

func init() {
	publishCmd.Flags().StringVarP(&publishOut, "out", "o", "", "write the manifest to this file instead")
	rootCmd.AddCommand(publishCmd)
}

// runPublish snapshots the metadata table into a manifest.
func runPublish(_ *cobra.Command, _ []string) error {
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

	manifestPath := cfg.ManifestPath
	if publishOut != "" {
		manifestPath, err = resolvePath(publishOut)
		if err != nil {
			return err
		}
	}

	manifests, err := manifest.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest store: %w", err)
	}

	records := store.List()
	published, err := manifests.Publish(records)
	if err != nil {
		return fmt.Errorf("failed to publish manifest: %w", err)
	}

	rows := make([]output.Row, 0, len(records))
	for _, rec := range records {
		row := output.Row{
			Identity: rec.Identity.Key(),
			Size:     rec.ByteSize,
			Path:     rec.LocalPath,
			URL:      rec.RemoteURL,
		}
		if _, ok := published.Lookup(rec.Identity); ok {
			row.State = "published"
		} else {
			row.State = "unpublished"
			row.Detail = "no remote URL; run 'cutsync sync' to upload"
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Identity < rows[j].Identity })

	recordJournal(journal.OpPublish, start, nil, manifestPath)

	tracked, publishedCount := storeCounts(store)
	printVerbose("Manifest written to %s (%d entries)", manifestPath, published.Len())
	return render(&output.Result{
		Command:   "publish",
		Source:    manifestPath,
		Rows:      rows,
		Tracked:   tracked,
		Published: publishedCount,
		Duration:  time.Since(start),
	})
}
