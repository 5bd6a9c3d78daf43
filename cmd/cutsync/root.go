package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	outputFormat string
	templateStr  string
	noColor      bool
	verbose      bool
	quiet        bool

	rootCmd = &cobra.Command{
		Use:   "cutsync",
		Short: "Track and synchronize PDF cut sheets",
		Long: `Cutsync keeps a local library of equipment cut sheets in step with a
remote document store. Documents are identified by manufacturer and part
number; content is compared by SHA-256, so a sync transfers only what
actually differs.

Examples:
  cutsync add motor.pdf -m ABB -p ACH550-01   # track one document
  cutsync scan ~/cutsheets --register         # discover and track by filename
  cutsync status                              # clean/changed/missing/unpublished
  cutsync sync                                # full reconciliation pass
  cutsync sync --dry-run                      # decisions only, no transfers
  cutsync history                             # past sync and publish runs`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/cutsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format (pretty, plain, json, jsonl, yaml, tsv, csv, paths, null, template)")
	rootCmd.PersistentFlags().StringVar(&templateStr, "template", "", "Go template for -o template")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if bootstrapExempt(cmd) {
			return nil
		}
		return initRuntime(cmd)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// usageError marks command line mistakes so main can exit with the usage
// status instead of the generic failure status.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

// usageErrorf builds a usage error from a format string.
func usageErrorf(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// partialFailureError reports a sync pass that completed but left some
// documents unsynchronized.
type partialFailureError struct {
	failed int
	total  int
}

func (e *partialFailureError) Error() string {
	return fmt.Sprintf("sync completed with failures: %d of %d documents", e.failed, e.total)
}

// exactArgs mirrors cobra.ExactArgs but reports the mistake as a usage
// error so the process exits with the usage status.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%q accepts %d argument(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// maxArgs mirrors cobra.MaximumNArgs with the same usage status mapping.
func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageErrorf("%q accepts at most %d argument(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// bootstrapExempt reports whether cmd runs without loaded configuration.
// Version, help, and config management must work even when the config
// file is broken or missing.
func bootstrapExempt(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "help", "completion", "config":
			return true
		}
	}
	return false
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
