package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/queue"
	"github.com/gittest/gittest/internal/search"
	"github.com/gittest/gittest/internal/vcs"
)

// fakeSearchRepo is a minimal vcs.Repo over a linear a->b->c->d->e history,
// shared by the search.Graph the bisection scenario drives.
type fakeSearchRepo struct {
	parents map[model.CommitID][]model.CommitID
}

func newLinearRepo() *fakeSearchRepo {
	return &fakeSearchRepo{parents: map[model.CommitID][]model.CommitID{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
		"d": {"c"},
		"e": {"d"},
	}}
}

func (f *fakeSearchRepo) Ancestors(candidates []model.CommitID, of model.CommitID) ([]model.CommitID, error) {
	set := make(map[model.CommitID]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	var result []model.CommitID
	visited := make(map[model.CommitID]struct{})
	var walk func(model.CommitID)
	walk = func(cur model.CommitID) {
		if _, ok := visited[cur]; ok {
			return
		}
		visited[cur] = struct{}{}
		if _, ok := set[cur]; ok {
			result = append(result, cur)
		}
		for _, p := range f.parents[cur] {
			walk(p)
		}
	}
	walk(of)
	return result, nil
}

func (f *fakeSearchRepo) Descendants(candidates []model.CommitID, of model.CommitID) ([]model.CommitID, error) {
	var result []model.CommitID
	for _, c := range candidates {
		ancestors, _ := f.Ancestors(candidates, c)
		for _, a := range ancestors {
			if a == of {
				result = append(result, c)
				break
			}
		}
	}
	return result, nil
}

func (f *fakeSearchRepo) TreeID(model.CommitID) (model.TreeID, error)         { return "", nil }
func (f *fakeSearchRepo) Parents(c model.CommitID) ([]model.CommitID, error) { return f.parents[c], nil }
func (f *fakeSearchRepo) CommitInfo(model.CommitID) (model.CommitInfo, error) {
	return model.CommitInfo{}, nil
}
func (f *fakeSearchRepo) WorkingCopyPath() (string, error)              { return "", nil }
func (f *fakeSearchRepo) RepoDir() string                               { return "" }
func (f *fakeSearchRepo) ResetHard(model.CommitID) error                { return nil }
func (f *fakeSearchRepo) WorktreeAdd(string, model.CommitID) error      { return nil }
func (f *fakeSearchRepo) WorktreeCheckout(string, model.CommitID) error { return nil }
func (f *fakeSearchRepo) WorktreeExists(string) bool                    { return false }
func (f *fakeSearchRepo) SnapshotTree(string) (vcs.WorkingTreeSnapshot, error) {
	return vcs.WorkingTreeSnapshot{}, nil
}
func (f *fakeSearchRepo) CreateCommit([]model.CommitID, model.TreeID, model.Signature, model.Signature, string) (model.CommitID, error) {
	return "", nil
}
func (f *fakeSearchRepo) RebaseAbort() error     { return nil }
func (f *fakeSearchRepo) RebaseBreakTrap() error { return nil }

var _ vcs.Repo = (*fakeSearchRepo)(nil)

var linearCandidates = []model.CommitID{"a", "b", "c", "d", "e"}

func newPool(jobs int, execute Execute) (*queue.Queue, *WorkerPool) {
	q := queue.New()
	return q, NewWorkerPool(jobs, q, execute)
}

func runWithTimeout(t *testing.T, s *Scheduler) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func TestRunWithoutSearchExecutesEveryCandidate(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[model.CommitID]bool)
	execute := func(workerID int, job model.JobKey) (model.TestOutput, error) {
		mu.Lock()
		seen[job.Commit] = true
		mu.Unlock()
		return model.TestOutput{Status: model.Passed(false, nil, false)}, nil
	}

	q, pool := newPool(2, execute)
	s := New(q, pool, linearCandidates, nil, 2)

	result, err := runWithTimeout(t, s)
	require.NoError(t, err)
	require.Len(t, result.Outputs, len(linearCandidates))
	for _, c := range linearCandidates {
		assert.True(t, seen[c], "expected %s to have been executed", c)
	}
	assert.Nil(t, result.AbortErr)
}

func TestRunWithBisectionStopsEarly(t *testing.T) {
	var mu sync.Mutex
	executed := 0
	execute := func(workerID int, job model.JobKey) (model.TestOutput, error) {
		mu.Lock()
		executed++
		mu.Unlock()
		// b is the first failing commit. Bisection probes c (fails, so d and
		// e are implied failing), then a (passes), then b; d and e never run.
		if job.Commit == "b" || job.Commit == "c" || job.Commit == "d" || job.Commit == "e" {
			return model.TestOutput{Status: model.Failed(false, 1, false)}, nil
		}
		return model.TestOutput{Status: model.Passed(false, nil, false)}, nil
	}

	q, pool := newPool(1, execute)
	repo := newLinearRepo()
	graph := search.NewGraph(repo, linearCandidates)
	driver := search.NewDriver(graph, search.Binary, linearCandidates)
	s := New(q, pool, linearCandidates, driver, 1)

	result, err := runWithTimeout(t, s)
	require.NoError(t, err)
	assert.Less(t, executed, len(linearCandidates), "bisection must prune at least one commit")
	assert.Nil(t, result.AbortErr)
	// Every candidate must end up with an implied or observed bound.
	bounds := result.Bounds
	for _, c := range linearCandidates {
		_, inSuccess := bounds.Success[c]
		_, inFailure := bounds.Failure[c]
		assert.True(t, inSuccess || inFailure, "expected %s to have a determined bound", c)
	}
}

func TestRunAbortsImmediatelyOnAbortStatus(t *testing.T) {
	// Set seeded every candidate up front (no search driver), but on abort
	// the scheduler discards whatever is still queued; a job a worker had
	// already pulled may still run, and its result is dropped. What matters
	// is that the scheduler reports the abort and returns.
	execute := func(workerID int, job model.JobKey) (model.TestOutput, error) {
		if job.Commit == "a" {
			return model.TestOutput{Status: model.Abort(127)}, nil
		}
		return model.TestOutput{Status: model.Passed(false, nil, false)}, nil
	}

	q, pool := newPool(1, execute)
	s := New(q, pool, linearCandidates, nil, 1)

	result, err := runWithTimeout(t, s)
	require.NoError(t, err)
	require.NotNil(t, result.AbortErr)
	assert.Equal(t, model.CommitID("a"), result.AbortErr.Commit)
	assert.Equal(t, 127, result.AbortErr.ExitCode)
}

func TestRunPropagatesWorkerExecuteError(t *testing.T) {
	boom := fmt.Errorf("boom")
	execute := func(workerID int, job model.JobKey) (model.TestOutput, error) {
		return model.TestOutput{}, boom
	}

	q, pool := newPool(1, execute)
	s := New(q, pool, linearCandidates, nil, 1)

	_, err := runWithTimeout(t, s)
	require.Error(t, err)
}

func TestRunWithNoCandidatesReturnsEmptyResult(t *testing.T) {
	execute := func(workerID int, job model.JobKey) (model.TestOutput, error) {
		t.Fatal("execute should never be called with zero candidates")
		return model.TestOutput{}, nil
	}
	q, pool := newPool(1, execute)
	s := New(q, pool, nil, nil, 1)

	result, err := runWithTimeout(t, s)
	require.NoError(t, err)
	assert.Empty(t, result.Outputs)
}
