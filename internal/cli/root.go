// Package cli wires the gittest subcommands (run, show, clean, fix) onto a
// cobra root command and provides Execute, the single entry point called
// from cmd/gittest.
package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gittest",
	Short: "Run a shell command against a set of commits, in parallel, with caching",
	Long: `gittest runs a shell command against each commit in a revision set,
isolating each run in a working copy or worktree, caching results by tree
content, and optionally driving a linear, reverse-linear, or bisection
search for the first failing commit.`,
}

// Execute runs the root command, returning the error cobra reports (if
// any); main is responsible for translating that into a process exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(fixCmd)
}

// defaultJobs resolves a --jobs 0 value to runtime.NumCPU(), the number of
// logical CPUs usable by the process; the physical core count is not used.
func defaultJobs(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.NumCPU()
}
