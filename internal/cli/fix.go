package cli

import (
	"github.com/spf13/cobra"
)

var fixCmd = &cobra.Command{
	Use:   "fix <revset>",
	Short: "Run the test command and rewrite commits whose tree it fixed",
	Long: `Fix runs like run, but every commit whose command passed after leaving a
differing, clean working tree gets a replacement commit with that tree, and
every candidate descending from it gets a replacement commit re-parented onto
the rewritten chain. The replacement commits are written to the object
database and their ids printed; no branch, ref or HEAD is moved to them.
With --dry-run, only the planned mapping for the fixed commits is printed
and no descendant is rewritten.`,
	Example: `  gittest fix main..feature -x "gofmt -l -w ."
  gittest fix main..feature -x "gofmt -l -w ." --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runFix,
}

func init() {
	addCommonRunFlags(fixCmd)
	fixCmd.Flags().Bool("dry-run", false, "report the rewrite plan without rebasing")
}

func runFix(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return executeRun(cmd, args[0], true)
}
