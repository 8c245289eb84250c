package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gittest/gittest/internal/cache"
	"github.com/gittest/gittest/internal/clierrors"
	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/vcs"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <revset>",
	Short: "Remove cached results for every commit in revset",
	Long: `Clean removes the cache directory keyed by each commit's current tree
content, for every commit in revset. It does not touch working directories
or worktree slots.`,
	Args: cobra.ExactArgs(1),
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	repo, err := vcs.Open("")
	if err != nil {
		cliErr := clierrors.NewPrerequisiteError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	candidates, err := resolveRevset(repo.RepoDir(), args[0])
	if err != nil {
		cliErr := clierrors.NewArgumentError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	trees := make([]model.TreeID, 0, len(candidates))
	for _, commit := range candidates {
		tree, err := repo.TreeID(commit)
		if err != nil {
			cliErr := clierrors.NewArgumentError(fmt.Sprintf("resolving tree for %s: %s", commit, err))
			clierrors.PrintError(cliErr)
			return cliErr
		}
		trees = append(trees, tree)
	}

	store := cache.NewStore(repo.RepoDir())
	if err := store.Clean(trees); err != nil {
		cliErr := clierrors.NewRuntimeError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	fmt.Printf("removed cached results for %d commit(s)\n", len(trees))
	return nil
}
