package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/cutsync/pkg/cutsync/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "View past sync and publish runs",
	Long: `List the journal of past sync and publish runs, newest first.

With an entry ID the per-document outcomes of that run are shown.
--cleanup N removes every entry except the newest N.`,
	Args: maxArgs(1),
	RunE: runHistory,
}

var (
	historyLimit   int
	historyCleanup int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.Flags().IntVar(&historyCleanup, "cleanup", 0, "remove all but the newest N entries")
	rootCmd.AddCommand(historyCmd)
}

// runHistory lists, shows, or prunes journal entries.
func runHistory(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	if cmd.Flags().Changed("cleanup") {
		removed, err := j.Cleanup(historyCleanup)
		if err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}
		printInfo("Removed %d entries, keeping the newest %d.", removed, historyCleanup)
		return nil
	}

	if len(args) > 0 {
		return showHistoryEntry(j, args[0])
	}
	return listHistory(j)
}

// listHistory prints the most recent journal entries.
func listHistory(j *journal.Journal) error {
	entries, err := j.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list journal: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'cutsync sync' or 'cutsync publish' to record one.")
		return nil
	}

	fmt.Printf("\n%-38s  %-8s  %5s  %5s  %5s  %5s  %s\n", "ID", "OP", "DOWN", "UP", "OK", "FAIL", "STARTED")
	fmt.Println(strings.Repeat("-", 92))

	for _, entry := range entries {
		fmt.Printf("%-38s  %-8s  %5d  %5d  %5d  %5d  %s\n",
			truncateString(entry.ID, 38),
			entry.Operation,
			entry.Counts.Downloaded,
			entry.Counts.Uploaded,
			entry.Counts.UpToDate,
			entry.Counts.Failed,
			entry.StartedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}

	fmt.Println(strings.Repeat("-", 92))
	fmt.Printf("\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Println("Use 'cutsync history <id>' for per-document outcomes.")

	return nil
}

// showHistoryEntry prints one run in full.
func showHistoryEntry(j *journal.Journal, id string) error {
	entry, err := j.Get(id)
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	took := entry.CompletedAt.Sub(entry.StartedAt).Round(time.Millisecond)

	fmt.Println("\nRun Details")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("ID:          %s\n", entry.ID)
	fmt.Printf("Operation:   %s\n", entry.Operation)
	fmt.Printf("Started:     %s\n", entry.StartedAt.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Completed:   %s (took %s)\n", entry.CompletedAt.Local().Format("2006-01-02 15:04:05 MST"), took)
	if entry.ManifestPath != "" {
		fmt.Printf("Manifest:    %s\n", entry.ManifestPath)
	}
	fmt.Printf("Downloaded:  %d\n", entry.Counts.Downloaded)
	fmt.Printf("Uploaded:    %d\n", entry.Counts.Uploaded)
	fmt.Printf("Up-to-date:  %d\n", entry.Counts.UpToDate)
	fmt.Printf("Failed:      %d\n", entry.Counts.Failed)

	if len(entry.Outcomes) > 0 {
		fmt.Println("\nOutcomes:")
		fmt.Println(strings.Repeat("-", 60))
		fmt.Printf("%-12s  %-28s  %s\n", "ACTION", "IDENTITY", "LOCATION")
		fmt.Println(strings.Repeat("-", 60))

		limit := len(entry.Outcomes)
		if limit > 50 {
			limit = 50
		}
		for i := 0; i < limit; i++ {
			out := entry.Outcomes[i]
			location := out.LocalPath
			if location == "" {
				location = out.RemoteURL
			}
			fmt.Printf("%-12s  %-28s  %s\n", out.Action, truncateString(out.Identity.Key(), 28), location)
			if out.Detail != "" {
				fmt.Printf("%-12s  %s\n", "", out.Detail)
			}
		}
		if len(entry.Outcomes) > limit {
			fmt.Printf("\n... and %d more documents\n", len(entry.Outcomes)-limit)
		}
	}

	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
