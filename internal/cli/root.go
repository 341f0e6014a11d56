// Package cli implements the tutu-infer command-line interface using
// Cobra. Each subcommand drives a distinct part of the scheduler: serve
// runs the daemon, bench exercises it with synthetic load.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tutu-infer",
	Short: "tutu-infer — priority-batched inference scheduler",
	Long: `tutu-infer schedules inference requests onto a shared worker pool,
batching them dynamically or statically per model, and routes responses
back to callers in FIFO submission order per session.`,
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
