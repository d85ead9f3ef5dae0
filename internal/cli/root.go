// Package cli implements the makeparallel command-line interface using
// Cobra. Subcommands: serve, config.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "makeparallel",
	Short: "makeparallel - concurrent task-execution runtime",
	Long: `makeparallel runs the task-execution runtime as a daemon:
a shared worker pool, a priority queue, memoized caching, task
history and Prometheus metrics behind an HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
