// Package report implements Reporter: aggregate pass/fail/skip/cached
// counts, per-commit descriptions at configurable output verbosity, and
// the aggregate process exit code.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/scheduler"
)

// Verbosity selects how much of a job's stdout/stderr the Reporter prints.
type Verbosity int

const (
	// None prints only the status line.
	None Verbosity = iota
	// PartialOutput prints the first and last 5 lines with an elision marker.
	PartialOutput
	// FullOutput prints the entire captured output.
	FullOutput
)

// contextLines is the number of leading/trailing lines PartialOutput shows,
// matching the original tool's abbreviate_lines behavior.
const contextLines = 5

// Mode selects which aggregate exit-code rule applies.
type Mode int

const (
	// ModeRun is the default run/fix behavior: 1 on any failure or skip.
	ModeRun Mode = iota
	// ModeSearch reports exit code 0 regardless of individual outcomes.
	ModeSearch
)

// Counts aggregates TestStatus outcomes into the Reporter's four buckets.
type Counts struct {
	Passed  int
	Failed  int
	Skipped int
	Cached  int
}

// Reporter renders a scheduler.Result to a writer and computes the process
// exit code.
type Reporter struct {
	Verbosity Verbosity
	Mode      Mode
	Out       io.Writer
	Colors    *color.Color
}

// New returns a Reporter writing to out.
func New(out io.Writer, verbosity Verbosity, mode Mode) *Reporter {
	return &Reporter{Verbosity: verbosity, Mode: mode, Out: out}
}

// Summarize aggregates counts over outputs.
func Summarize(outputs []scheduler.CommitOutput) Counts {
	var c Counts
	for _, o := range outputs {
		if o.Output.Status.Cached {
			c.Cached++
		}
		switch o.Output.Status.Bucket() {
		case model.BucketPassed:
			c.Passed++
		case model.BucketFailed:
			c.Failed++
		case model.BucketSkipped:
			c.Skipped++
		}
	}
	return c
}

// Render writes per-commit lines followed by a summary line.
func (r *Reporter) Render(result *scheduler.Result) error {
	for _, o := range result.Outputs {
		if err := r.renderCommit(o); err != nil {
			return err
		}
	}

	counts := Summarize(result.Outputs)
	fmt.Fprintf(r.Out, "%d passed, %d failed, %d skipped (%d cached)\n",
		counts.Passed, counts.Failed, counts.Skipped, counts.Cached)

	if result.AbortErr != nil {
		fmt.Fprintf(r.Out, "testing aborted at %s (exit %d)\n", result.AbortErr.Commit, result.AbortErr.ExitCode)
	}

	return nil
}

func (r *Reporter) renderCommit(o scheduler.CommitOutput) error {
	icon := o.Output.Status.Icon()
	fmt.Fprintf(r.Out, "%s %s\n", icon, o.Commit)

	if r.Verbosity == None {
		return nil
	}

	for _, path := range []string{o.Output.StdoutPath, o.Output.StderrPath} {
		if path == "" {
			continue
		}
		if err := r.renderFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) renderFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if r.Verbosity == FullOutput || len(lines) <= 2*contextLines {
		fmt.Fprintln(r.Out, strings.Join(lines, "\n"))
		return nil
	}

	head := lines[:contextLines]
	tail := lines[len(lines)-contextLines:]
	fmt.Fprintln(r.Out, strings.Join(head, "\n"))
	fmt.Fprintf(r.Out, "... (%d lines elided) ...\n", len(lines)-2*contextLines)
	fmt.Fprintln(r.Out, strings.Join(tail, "\n"))
	return nil
}

// ExitCode computes the aggregate process exit code per §4.8/§6: search
// mode always reports 0 (the search reported its bounds); otherwise 1 on
// any failure/skip or abort, else 0.
func (r *Reporter) ExitCode(result *scheduler.Result) int {
	if result.AbortErr != nil {
		return 1
	}
	if r.Mode == ModeSearch {
		return 0
	}
	counts := Summarize(result.Outputs)
	if counts.Failed > 0 || counts.Skipped > 0 {
		return 1
	}
	return 0
}
