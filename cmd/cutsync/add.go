package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
	"github.com/jamesainslie/cutsync/pkg/cutsync/output"
)

var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Track a cut sheet",
	Long: `Register one PDF in the metadata store under the given manufacturer
and part number, hashing its content.

Adding an already tracked file re-hashes it; the identity and remote URL
are updated when they differ.

Examples:
  cutsync add motor.pdf -m ABB -p ACH550-01
  cutsync add contactor.pdf -m Eaton -p C25DND330 --url https://docs.example.com/blobs/abc`,
	Args: exactArgs(1),
	RunE: runAdd,
}

var (
	addManufacturer string
	addPartNumber   string
	addRemoteURL    string
)

func init() {
	addCmd.Flags().StringVarP(&addManufacturer, "manufacturer", "m", "", "equipment manufacturer (required)")
	addCmd.Flags().StringVarP(&addPartNumber, "part", "p", "", "manufacturer part number (required)")
	addCmd.Flags().StringVar(&addRemoteURL, "url", "", "remote URL the document is already published at")
	rootCmd.AddCommand(addCmd)
}

// runAdd registers a single document.
func runAdd(_ *cobra.Command, args []string) error {
	if addManufacturer == "" || addPartNumber == "" {
		return usageErrorf("--manufacturer and --part are required")
	}

	path, err := resolvePath(args[0])
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
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

	id := identity.Identity{Manufacturer: addManufacturer, PartNumber: addPartNumber}
	rec, err := store.Refresh(id, path, addRemoteURL)
	if err != nil {
		return fmt.Errorf("failed to register document: %w", err)
	}

	tracked, published := storeCounts(store)
	return render(&output.Result{
		Command: "add",
		Rows: []output.Row{{
			Identity: rec.Identity.Key(),
			State:    "registered",
			Size:     rec.ByteSize,
			Path:     rec.LocalPath,
			URL:      rec.RemoteURL,
		}},
		Tracked:   tracked,
		Published: published,
		Duration:  time.Since(start),
	})
}
