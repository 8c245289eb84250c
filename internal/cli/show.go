package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gittest/gittest/internal/cache"
	"github.com/gittest/gittest/internal/cliconfig"
	"github.com/gittest/gittest/internal/clierrors"
	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/report"
	"github.com/gittest/gittest/internal/scheduler"
	"github.com/gittest/gittest/internal/vcs"
)

var showCmd = &cobra.Command{
	Use:   "show <revset>",
	Short: "Show cached results for revset without running anything",
	Long: `Show reads the cache for each commit in revset, at the current tree
content, and renders whatever verdict is already on disk. It never spawns
the test command; commits with no cached result print as such.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringP("command", "x", "", "literal shell command whose cached result to show")
	showCmd.Flags().StringP("alias", "c", "", "configured command alias (default: \"default\")")
	showCmd.Flags().CountP("verbose", "v", "increase output verbosity (-v partial output, -vv full output)")
}

func runShow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	command, _ := cmd.Flags().GetString("command")
	alias, _ := cmd.Flags().GetString("alias")
	verboseCount, _ := cmd.Flags().GetCount("verbose")

	verbosity := report.None
	switch {
	case verboseCount >= 2:
		verbosity = report.FullOutput
	case verboseCount == 1:
		verbosity = report.PartialOutput
	}

	repo, err := vcs.Open("")
	if err != nil {
		cliErr := clierrors.NewPrerequisiteError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	cfg, err := cliconfig.Load(cliconfig.LoadOptions{})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	resolved, ok := cfg.ResolveCommand(command, alias)
	if !ok {
		cliErr := clierrors.NoCommandError(alias, cfg.AliasNames())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	candidates, err := resolveRevset(repo.RepoDir(), args[0])
	if err != nil {
		cliErr := clierrors.NewArgumentError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	store := cache.NewStore(repo.RepoDir())

	var outputs []scheduler.CommitOutput
	for _, commit := range candidates {
		tree, err := repo.TreeID(commit)
		if err != nil {
			outputs = append(outputs, scheduler.CommitOutput{
				Commit: commit,
				Output: model.TestOutput{Status: model.CheckoutFailed()},
			})
			continue
		}
		status, found, err := store.Peek(tree, resolved)
		if err != nil {
			return fmt.Errorf("reading cache for %s: %w", commit, err)
		}
		if !found {
			fmt.Fprintf(os.Stdout, "? %s (no cached result)\n", commit)
			continue
		}
		stdout, stderr := store.OutputPaths(tree, resolved)
		outputs = append(outputs, scheduler.CommitOutput{
			Commit: commit,
			Output: model.TestOutput{Status: status, StdoutPath: stdout, StderrPath: stderr},
		})
	}

	reporter := report.New(os.Stdout, verbosity, report.ModeRun)
	return reporter.Render(&scheduler.Result{Outputs: outputs})
}
