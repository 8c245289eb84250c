package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gittest/gittest/internal/cache"
	"github.com/gittest/gittest/internal/cliconfig"
	"github.com/gittest/gittest/internal/clierrors"
	"github.com/gittest/gittest/internal/fixplan"
	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/progress"
	"github.com/gittest/gittest/internal/queue"
	"github.com/gittest/gittest/internal/report"
	"github.com/gittest/gittest/internal/runner"
	"github.com/gittest/gittest/internal/scheduler"
	"github.com/gittest/gittest/internal/search"
	"github.com/gittest/gittest/internal/vcs"
	"github.com/gittest/gittest/internal/workdir"
)

var runCmd = &cobra.Command{
	Use:   "run <revset>",
	Short: "Run the test command against each commit in revset",
	Long: `Run executes the configured (or -x given) shell command against every
commit in revset, isolating each run in a working copy or worktree slot,
caching results by tree content, and optionally driving a search for the
first failing commit.`,
	Example: `  gittest run HEAD~10..HEAD -x "go test ./..."
  gittest run HEAD~10..HEAD -c default --strategy worktree --jobs 4
  gittest run main..feature --bisect`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	addCommonRunFlags(runCmd)
}

func addCommonRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("command", "x", "", "literal shell command to run")
	cmd.Flags().StringP("alias", "c", "", "configured command alias (default: \"default\")")
	cmd.Flags().CountP("verbose", "v", "increase output verbosity (-v partial output, -vv full output)")
	cmd.Flags().String("strategy", "", "working directory strategy: working-copy | worktree")
	cmd.Flags().String("search", "", "search strategy: linear | reverse | binary")
	cmd.Flags().Bool("bisect", false, "alias for --search binary")
	cmd.Flags().Bool("interactive", false, "run the command interactively, inheriting the terminal")
	cmd.Flags().Int("jobs", 0, "number of parallel workers (0 = logical CPU count)")
}

type runFlags struct {
	command     string
	alias       string
	verbosity   report.Verbosity
	strategy    string
	searchFlag  string
	bisect      bool
	interactive bool
	jobs        int
}

func parseRunFlags(cmd *cobra.Command) (runFlags, error) {
	command, _ := cmd.Flags().GetString("command")
	alias, _ := cmd.Flags().GetString("alias")
	verboseCount, _ := cmd.Flags().GetCount("verbose")
	strategy, _ := cmd.Flags().GetString("strategy")
	searchFlag, _ := cmd.Flags().GetString("search")
	bisect, _ := cmd.Flags().GetBool("bisect")
	interactive, _ := cmd.Flags().GetBool("interactive")
	jobs, _ := cmd.Flags().GetInt("jobs")

	verbosity := report.None
	switch {
	case verboseCount >= 2:
		verbosity = report.FullOutput
	case verboseCount == 1:
		verbosity = report.PartialOutput
	}

	return runFlags{
		command:     command,
		alias:       alias,
		verbosity:   verbosity,
		strategy:    strategy,
		searchFlag:  searchFlag,
		bisect:      bisect,
		interactive: interactive,
		jobs:        jobs,
	}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	return executeRun(cmd, args[0], false)
}

// executeRun implements both `run` and, with fix=true, the execution half
// of `fix` (fix mode additionally plans and applies a rewrite afterward).
func executeRun(cmd *cobra.Command, revset string, fixMode bool) error {
	flags, err := parseRunFlags(cmd)
	if err != nil {
		return err
	}

	if flags.bisect {
		flags.searchFlag = "binary"
	}

	if flags.interactive && flags.jobs > 1 {
		cliErr := clierrors.NewConfigError("--interactive cannot be combined with --jobs > 1")
		clierrors.PrintError(cliErr)
		return cliErr
	}
	if flags.interactive && flags.searchFlag != "" {
		cliErr := clierrors.NewConfigError("--interactive cannot be combined with --search")
		clierrors.PrintError(cliErr)
		return cliErr
	}
	if fixMode && flags.searchFlag != "" {
		cliErr := clierrors.NewConfigError("fix mode and search mode are mutually exclusive")
		clierrors.PrintError(cliErr)
		return cliErr
	}

	jobs := defaultJobs(flags.jobs)
	strategyName := flags.strategy
	if flags.interactive {
		jobs = 1
		strategyName = "working-copy"
	}
	if strategyName == "" {
		strategyName = "working-copy"
	}
	if jobs > 1 && strategyName == "working-copy" {
		if flags.jobs == 0 {
			// The CPU-count default does not apply to the single slot.
			jobs = 1
		} else {
			cliErr := clierrors.NewConfigError("--jobs > 1 requires --strategy worktree; working-copy has a single slot")
			clierrors.PrintError(cliErr)
			return cliErr
		}
	}

	strategy, err := workdir.ParseStrategy(strategyName)
	if err != nil {
		cliErr := clierrors.NewConfigError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
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

	command, ok := cfg.ResolveCommand(flags.command, flags.alias)
	if !ok {
		cliErr := clierrors.NoCommandError(flags.alias, cfg.AliasNames())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	candidates, err := resolveRevset(repo.RepoDir(), revset)
	if err != nil {
		cliErr := clierrors.NewArgumentError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	store := cache.NewStore(repo.RepoDir())
	broker := workdir.NewBroker(repo, store, strategy)
	run := runner.NewRunner(runner.ResolveShell(), repo)

	var abortTrap bool
	if strategy == workdir.WorkingCopy {
		if err := repo.RebaseBreakTrap(); err == nil {
			abortTrap = true
		}
	}
	defer func() {
		if abortTrap {
			_ = repo.RebaseAbort()
		}
	}()

	ws := progress.NewWorkerStatus(os.Stdout, jobs)

	execute := func(workerID int, job model.JobKey) (model.TestOutput, error) {
		ws.Start(workerID, job.Commit)
		output := runJob(store, broker, run, repo, workerID, job, command, flags.interactive)
		ws.Done(workerID, job.Commit, output.Status)
		return output, nil
	}

	q := queue.New()
	pool := scheduler.NewWorkerPool(jobs, q, execute)

	var driver *search.Driver
	if flags.searchFlag != "" {
		st, err := search.ParseStrategy(flags.searchFlag)
		if err != nil {
			cliErr := clierrors.NewConfigError(err.Error())
			clierrors.PrintError(cliErr)
			return cliErr
		}
		graph := search.NewGraph(repo, candidates)
		driver = search.NewDriver(graph, st, candidates)
	}

	sched := scheduler.New(q, pool, candidates, driver, jobs)

	result, err := sched.Run(cmd.Context())
	ws.StopAll()
	if err != nil {
		cliErr := clierrors.NewRuntimeError(err.Error())
		clierrors.PrintError(cliErr)
		return cliErr
	}

	mode := report.ModeRun
	if driver != nil {
		mode = report.ModeSearch
	}
	reporter := report.New(os.Stdout, flags.verbosity, mode)
	if err := reporter.Render(result); err != nil {
		return err
	}

	if fixMode {
		if err := runFixPlanning(cmd, repo, candidates, result); err != nil {
			return err
		}
	}

	exitCode := reporter.ExitCode(result)
	if exitCode != 0 {
		// os.Exit skips deferred calls, so release the abort trap first.
		if abortTrap {
			_ = repo.RebaseAbort()
		}
		os.Exit(exitCode)
	}
	return nil
}

// runJob implements the per-job path a worker takes: ask the cache for a
// slot (possibly a cached verdict), otherwise prepare a working directory
// and run the command, then commit the result.
func runJob(store *cache.Store, broker *workdir.Broker, run *runner.Runner, repo vcs.Repo, workerID int, job model.JobKey, command string, interactive bool) model.TestOutput {
	tree, err := repo.TreeID(job.Commit)
	if err != nil {
		return model.TestOutput{Status: model.CheckoutFailed()}
	}

	acquired, err := store.Acquire(tree, command)
	if err != nil {
		return model.TestOutput{Status: model.ReadCacheFailed(err.Error())}
	}
	if acquired.Cached {
		stdout, stderr := store.OutputPaths(tree, command)
		return model.TestOutput{Status: acquired.Status, StdoutPath: stdout, StderrPath: stderr}
	}

	prepared, err := broker.Prepare(workerID, job.Commit)
	if err != nil {
		_ = acquired.Files.Close()
		if prepErr, ok := err.(*workdir.PrepareError); ok {
			return model.TestOutput{Status: prepErr.ToStatus()}
		}
		return model.TestOutput{Status: model.CheckoutFailed()}
	}
	defer prepared.Release()

	opts := runner.Options{
		Command:     command,
		Dir:         prepared.Path,
		Interactive: interactive,
		Stdout:      acquired.Files.Stdout,
		Stderr:      acquired.Files.Stderr,
	}
	status := run.Run(opts, tree)

	stdout, stderr := store.OutputPaths(tree, command)

	// SpawnTestFailed and TerminatedBySignal are environment failures, not a
	// verdict on the commit: leave the result file empty so the slot reads
	// back as absent (the same crash-recovery sentinel Acquire checks) and
	// the next run retries rather than caching a bogus exit code.
	if status.Kind == model.StatusSpawnTestFailed || status.Kind == model.StatusTerminatedBySignal {
		_ = acquired.Files.Close()
		return model.TestOutput{Status: status, StdoutPath: stdout, StderrPath: stderr}
	}

	var fixedTreeStr *string
	if status.FixedTree != nil {
		s := string(*status.FixedTree)
		fixedTreeStr = &s
	}

	record := model.CacheRecord{
		Command:     command,
		ExitCode:    status.ExitCode,
		FixedTree:   fixedTreeStr,
		Interactive: interactive,
	}
	if err := store.Commit(acquired.Files, record); err != nil {
		return model.TestOutput{Status: model.ReadCacheFailed(err.Error())}
	}

	return model.TestOutput{Status: status, StdoutPath: stdout, StderrPath: stderr}
}

// runFixPlanning collects passing results with a fixed_tree and runs
// FixPlanner, either applying the rewrite or, with --dry-run, reporting
// the planned mapping only.
func runFixPlanning(cmd *cobra.Command, repo vcs.Repo, candidates []model.CommitID, result *scheduler.Result) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var passing []fixplan.PassingFix
	for _, o := range result.Outputs {
		if o.Output.Status.Kind == model.StatusPassed && o.Output.Status.FixedTree != nil {
			passing = append(passing, fixplan.PassingFix{Commit: o.Commit, FixedTree: *o.Output.Status.FixedTree})
		}
	}

	planner := fixplan.NewPlanner(repo)
	fixes, err := planner.Build(passing)
	if err != nil {
		return fmt.Errorf("building fixes: %w", err)
	}

	plan, err := planner.BuildPlan(candidates, fixes)
	if err != nil {
		return fmt.Errorf("building rebase plan: %w", err)
	}

	if dryRun {
		fmt.Println("dry-run: no commits rewritten")
		for _, f := range plan.Fixes {
			fmt.Printf("  %s -> %s\n", f.OriginalCommit, f.FixedCommit)
		}
		return nil
	}

	if err := planner.Apply(plan, false); err != nil {
		return fmt.Errorf("applying fixes: %w", err)
	}
	for _, f := range plan.Fixes {
		fmt.Printf("fixed %s -> %s\n", f.OriginalCommit, f.FixedCommit)
	}
	return nil
}
