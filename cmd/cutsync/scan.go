package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/metastore"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
	"github.com/jamesainslie/cutsync/pkg/cutsync/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Discover candidate cut sheets",
	Long: `Walk a directory for PDF files named by the
<manufacturer>__<partnumber>.pdf convention.

Matching files are reported as candidates; with --register they are
tracked immediately. Files that do not follow the convention are listed
as unrecognized and left for 'cutsync add'.

Examples:
  cutsync scan ~/Documents/cutsheets
  cutsync scan ~/Downloads --register`,
	Args: exactArgs(1),
	RunE: runScan,
}

var scanRegister bool

func init() {
	scanCmd.Flags().BoolVar(&scanRegister, "register", false, "track every convention-matching file")
	rootCmd.AddCommand(scanCmd)
}

// runScan walks one directory and reports (or registers) candidates.
func runScan(_ *cobra.Command, args []string) error {
	root, err := resolvePath(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", root)
		}
		return fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", root)
	}

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

	printVerbose("Scanning %s (exclude: %v)", root, cfg.Scan.Exclude)

	s := scanner.New(scanner.Options{Root: root, Exclude: cfg.Scan.Exclude})
	res, err := s.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	rows := make([]output.Row, 0, len(res.Files))
	for _, found := range res.Files {
		rows = append(rows, scanRow(store, found))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	warnings := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		warnings = append(warnings, fmt.Sprintf("%s: %s", e.Path, e.Error))
	}

	tracked, published := storeCounts(store)
	return render(&output.Result{
		Command:   "scan",
		Source:    root,
		Rows:      rows,
		Tracked:   tracked,
		Published: published,
		Duration:  res.Elapsed,
		Warnings:  warnings,
	})
}

// scanRow classifies one discovered file, registering it when requested.
func scanRow(store *metastore.Store, found scanner.Found) output.Row {
	row := output.Row{
		State: "candidate",
		Size:  found.Size,
		Path:  found.Path,
	}

	if !found.IdentityOK {
		row.Identity = "-"
		row.State = "unrecognized"
		row.Detail = "filename does not match <manufacturer>__<partnumber>.pdf"
		return row
	}
	row.Identity = found.Identity.Key()

	if scanRegister {
		rec, err := store.Refresh(found.Identity, found.Path, "")
		if err != nil {
			row.State = "failed"
			row.Detail = err.Error()
			return row
		}
		row.State = "registered"
		row.URL = rec.RemoteURL
		return row
	}

	if _, ok := store.Get(found.Path); ok {
		row.State = "tracked"
	}
	return row
}
