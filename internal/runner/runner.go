// Package runner spawns the user's shell command against a prepared
// working directory and classifies the result into a TestStatus.
package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/vcs"
)

// Runner spawns the configured command and classifies its outcome.
type Runner struct {
	// Shell is the interpreter used to run Command non-interactively,
	// looked up once at process start. Interactive runs ignore it and use
	// InteractiveShell instead.
	Shell string
	Repo  vcs.Repo
}

// NewRunner returns a Runner using shell to interpret commands.
func NewRunner(shell string, repo vcs.Repo) *Runner {
	return &Runner{Shell: shell, Repo: repo}
}

// ResolveShell returns the shell to use for non-interactive commands,
// looked up via exec.LookPath, falling back to /bin/sh.
func ResolveShell() string {
	if path, err := exec.LookPath("sh"); err == nil {
		return path
	}
	return "/bin/sh"
}

// InteractiveShell returns the shell to use for interactive commands: the
// SHELL environment variable, falling back to ResolveShell.
func InteractiveShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return ResolveShell()
}

// InteractiveHint is printed before spawning an interactive command,
// explaining the exit-code protocol to the user.
const InteractiveHint = "exit 0 = pass, 1 = fail, 125 = skip, 127 = abort"

// Options configure a single Run invocation.
type Options struct {
	Command     string
	Dir         string
	Interactive bool
	Stdout      *os.File
	Stderr      *os.File
}

// Run spawns the command in dir and classifies its outcome, computing
// fixed_tree on success.
func (r *Runner) Run(opts Options, commitTree model.TreeID) model.TestStatus {
	shell := r.Shell
	if opts.Interactive {
		shell = InteractiveShell()
		fmt.Fprintln(os.Stderr, InteractiveHint)
	}

	cmd := exec.Command(shell, "-c", opts.Command)
	cmd.Dir = opts.Dir

	if opts.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdin = nil
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
	}

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return model.SpawnTestFailed(err.Error())
		}
	}

	exitCode, ok := exitCodeOf(cmd)
	if !ok {
		return model.TerminatedBySignal()
	}

	if exitCode != 0 {
		return model.ClassifyExitCode(exitCode, false, opts.Interactive, nil)
	}

	fixedTree := r.computeFixedTree(opts.Dir, commitTree)
	return model.Passed(false, fixedTree, opts.Interactive)
}

// exitCodeOf extracts the numeric exit code from a finished command,
// returning ok=false when the process was terminated by a signal and never
// produced one.
func exitCodeOf(cmd *exec.Cmd) (int, bool) {
	if cmd.ProcessState == nil {
		return 0, false
	}
	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		return 0, false
	}
	return code, true
}

// computeFixedTree snapshots dir after a passing run and returns the
// resulting tree id iff it differs from the commit's original tree and the
// working directory is clean or has only unstaged changes.
func (r *Runner) computeFixedTree(dir string, commitTree model.TreeID) *model.TreeID {
	snap, err := r.Repo.SnapshotTree(dir)
	if err != nil {
		return nil
	}
	switch snap.State {
	case "clean", "unstaged":
		if snap.Tree != "" && snap.Tree != commitTree {
			t := snap.Tree
			return &t
		}
		return nil
	case "staged", "conflicted":
		fmt.Fprintf(os.Stderr, "warning: working directory %s has %s changes; fixed tree not recorded\n", filepath.Clean(dir), snap.State)
		return nil
	default:
		return nil
	}
}
