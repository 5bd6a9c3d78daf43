// Package main provides the entry point for the cutsync cut sheet manager CLI.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an Execute error onto the process exit status: 2 for
// command line mistakes, 3 for a sync that finished with per-document
// failures, 1 for everything else.
func exitCode(err error) int {
	var uerr *usageError
	if errors.As(err, &uerr) {
		return 2
	}
	var perr *partialFailureError
	if errors.As(err, &perr) {
		return 3
	}
	return 1
}
