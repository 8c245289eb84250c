// Package scheduler implements WorkerPool and Scheduler: the fixed-size
// pool of slot-pinned workers, and the single-threaded event loop that
// seeds the queue, consumes results, drives the search, and terminates.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/queue"
	"github.com/gittest/gittest/internal/search"
)

// JobResult is what a worker posts back to the scheduler after executing a
// job: either a completed TestOutput or an unexpected worker-level error.
type JobResult struct {
	Job      model.JobKey
	Output   model.TestOutput
	WorkerID int
	Err      error
}

// Execute runs job against the working-directory slot owned by workerID and
// returns the resulting TestOutput. Bound once at pool construction,
// generic over however the caller wires cache/workdir/runner together.
type Execute func(workerID int, job model.JobKey) (model.TestOutput, error)

// WorkerPool runs a fixed number of workers, each pinned to a slot id,
// pulling jobs from q and posting results to results.
type WorkerPool struct {
	jobs    int
	q       *queue.Queue
	execute Execute
	results chan JobResult
}

// NewWorkerPool returns a pool of `jobs` workers sharing queue q, each
// calling execute with its own pinned worker id.
func NewWorkerPool(jobs int, q *queue.Queue, execute Execute) *WorkerPool {
	return &WorkerPool{
		jobs:    jobs,
		q:       q,
		execute: execute,
		results: make(chan JobResult, jobs),
	}
}

// Results returns the channel workers post to. The scheduler reads from it
// until it knows no more results are coming.
func (p *WorkerPool) Results() <-chan JobResult {
	return p.results
}

// Run starts all workers and blocks until every worker has returned: a
// worker returns once the queue is closed and drained, or as soon as its
// own execute call returns an unexpected error, which Run then reports
// (supervised via errgroup, mirroring the teacher's ParallelExecutor).
// Run closes results when it returns.
func (p *WorkerPool) Run(ctx context.Context) error {
	defer close(p.results)

	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < p.jobs; i++ {
		workerID := i
		g.Go(func() error {
			return p.workerLoop(workerID)
		})
	}
	return g.Wait()
}

func (p *WorkerPool) workerLoop(workerID int) error {
	for {
		job, done := p.q.Pull()
		if done {
			return nil
		}
		output, err := p.execute(workerID, job)
		if err != nil {
			p.results <- JobResult{Job: job, WorkerID: workerID, Err: err}
			return fmt.Errorf("worker %d on %s: %w", workerID, job, err)
		}
		p.results <- JobResult{Job: job, Output: output, WorkerID: workerID}
	}
}

// AbortError records the commit and exit code that triggered an Abort
// status, per §4.6's event loop step 2.
type AbortError struct {
	Commit   model.CommitID
	ExitCode int
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("testing aborted at %s (exit %d)", e.Commit, e.ExitCode)
}

// Scheduler orchestrates the queue/search-driver event loop described in
// §4.6: it owns the queue and the search state exclusively.
type Scheduler struct {
	q          *queue.Queue
	pool       *WorkerPool
	candidates []model.CommitID
	driver     *search.Driver // nil when no search strategy is configured
	jobs       int

	mu          sync.Mutex
	testOutputs map[model.CommitID]model.TestOutput
	abortErr    *AbortError
}

// New returns a Scheduler over candidates. driver may be nil to run every
// candidate without adaptive search.
func New(q *queue.Queue, pool *WorkerPool, candidates []model.CommitID, driver *search.Driver, jobs int) *Scheduler {
	return &Scheduler{
		q:           q,
		pool:        pool,
		candidates:  candidates,
		driver:      driver,
		jobs:        jobs,
		testOutputs: make(map[model.CommitID]model.TestOutput),
	}
}

// Result is the final, ordered outcome of a scheduler run.
type Result struct {
	// Outputs lists every produced TestOutput keyed by commit, in the
	// order candidates was given (sorted input order), regardless of
	// worker completion interleaving.
	Outputs  []CommitOutput
	Bounds   model.SearchBounds
	AbortErr *AbortError
}

// CommitOutput pairs a commit with its TestOutput for ordered reporting.
type CommitOutput struct {
	Commit model.CommitID
	Output model.TestOutput
}

// Run executes the full scheduling loop: seeds the queue, consumes results
// from the worker pool running in the background, feeds the search driver,
// and terminates on completion or abort.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	if len(s.candidates) == 0 {
		s.q.Close()
		return &Result{}, nil
	}

	initial, err := s.initialFrontier()
	if err != nil {
		return nil, err
	}
	s.q.Set(initial)

	poolErrCh := make(chan error, 1)
	go func() {
		poolErrCh <- s.pool.Run(ctx)
	}()

	// stop discards pending jobs, closes the queue, and drains results
	// still in flight so no worker blocks posting one; it then waits for
	// every worker to exit and returns the pool's error.
	stop := func() error {
		s.q.Set(nil)
		s.q.Close()
		go func() {
			for range s.pool.Results() {
			}
		}()
		return <-poolErrCh
	}

	for result := range s.pool.Results() {
		if result.Err != nil {
			_ = stop()
			return nil, fmt.Errorf("worker %d failed on %s: %w", result.WorkerID, result.Job, result.Err)
		}

		if result.Output.Status.Kind == model.StatusAbort {
			s.abortErr = &AbortError{Commit: result.Job.Commit, ExitCode: result.Output.Status.ExitCode}
			s.testOutputs[result.Job.Commit] = result.Output
			break
		}

		s.testOutputs[result.Job.Commit] = result.Output

		if s.driver != nil {
			if err := s.driver.Notify(result.Job.Commit, result.Output.Status.ToObservation()); err != nil {
				_ = stop()
				return nil, err
			}
		}

		complete, next, err := s.advance()
		if err != nil {
			_ = stop()
			return nil, err
		}
		if complete {
			break
		}
		if next != nil {
			s.q.Set(next)
		}
	}

	// On completion or abort, pending jobs are discarded and results that
	// in-flight workers still post are dropped; stop returns once every
	// worker has observed the closure.
	if err := stop(); err != nil && s.abortErr == nil {
		return nil, err
	}

	return s.buildResult(), nil
}

// initialFrontier computes the Set() contents for the scheduler's first
// pass: every candidate with no search strategy, else the driver's first
// `jobs` commits.
func (s *Scheduler) initialFrontier() ([]model.JobKey, error) {
	var commits []model.CommitID
	if s.driver == nil {
		commits = s.candidates
	} else {
		next, err := s.driver.Next(s.jobs)
		if err != nil {
			return nil, err
		}
		commits = next
	}
	return toJobs(commits), nil
}

// advance computes whether the run is complete and, if not, the next
// frontier to feed the queue.
func (s *Scheduler) advance() (bool, []model.JobKey, error) {
	if s.driver == nil {
		return len(s.testOutputs) == len(s.candidates), nil, nil
	}
	next, err := s.driver.Next(s.jobs)
	if err != nil {
		return false, nil, err
	}
	if len(next) == 0 {
		return true, nil, nil
	}
	return false, toJobs(next), nil
}

func toJobs(commits []model.CommitID) []model.JobKey {
	jobs := make([]model.JobKey, len(commits))
	for i, c := range commits {
		jobs[i] = model.JobKey{Commit: c, Operation: model.OperationTag(c)}
	}
	return jobs
}

func (s *Scheduler) buildResult() *Result {
	outputs := make([]CommitOutput, 0, len(s.testOutputs))
	for _, c := range s.candidates {
		if out, ok := s.testOutputs[c]; ok {
			outputs = append(outputs, CommitOutput{Commit: c, Output: out})
		}
	}

	var bounds model.SearchBounds
	if s.driver != nil {
		bounds = s.driver.Bounds()
	}

	return &Result{Outputs: outputs, Bounds: bounds, AbortErr: s.abortErr}
}
