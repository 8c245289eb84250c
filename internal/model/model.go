// Package model defines the data types shared by every stage of the test
// runner: commit/tree identity, job keys, and the tagged TestStatus result
// produced by running a command against a commit.
package model

import "fmt"

// CommitID is an opaque, non-zero content hash identifying a commit.
type CommitID string

// TreeID is the root content hash of a commit's working tree. Two commits
// with identical trees share cache entries.
type TreeID string

// OperationTag is an opaque handle used only for progress reporting; it
// carries no semantic weight for scheduling or caching.
type OperationTag string

// JobKey identifies a single unit of work: run the configured command
// against one commit.
type JobKey struct {
	Commit    CommitID
	Operation OperationTag
}

// String renders the job key for logging.
func (k JobKey) String() string {
	return fmt.Sprintf("%s(%s)", k.Commit, k.Operation)
}

// Signature is an author or committer identity carried over when FixPlanner
// builds a replacement commit.
type Signature struct {
	Name  string
	Email string
}

// CommitInfo is the subset of commit metadata FixPlanner needs to construct
// a replacement commit with identical provenance.
type CommitInfo struct {
	ID        CommitID
	Tree      TreeID
	Parents   []CommitID
	Author    Signature
	Committer Signature
	Message   string
}

// TestStatusKind discriminates the TestStatus variants for exhaustive
// switches without relying on type assertions everywhere.
type TestStatusKind int

const (
	// StatusCheckoutFailed: working-directory preparation failed for this commit.
	StatusCheckoutFailed TestStatusKind = iota
	// StatusSpawnTestFailed: the command could not be spawned.
	StatusSpawnTestFailed
	// StatusTerminatedBySignal: process exited without a numeric exit code.
	StatusTerminatedBySignal
	// StatusAlreadyInProgress: another process currently holds the per-slot lock.
	StatusAlreadyInProgress
	// StatusReadCacheFailed: cache slot was populated but could not be parsed.
	StatusReadCacheFailed
	// StatusIndeterminate: exit code == 125 (skip).
	StatusIndeterminate
	// StatusAbort: exit code == 127 (stop all testing).
	StatusAbort
	// StatusFailed: non-zero exit not in the special set.
	StatusFailed
	// StatusPassed: exit code 0.
	StatusPassed
)

// IndeterminateExitCode is the exit status that means "skip this commit".
// Used by Git, Mercurial, and every custom bisection script since.
const IndeterminateExitCode = 125

// AbortExitCode is the exit status that means "stop testing entirely".
const AbortExitCode = 127

// TestStatus is the tagged outcome of running the test command against one
// commit. Exactly one of the optional fields is meaningful, selected by Kind.
type TestStatus struct {
	Kind TestStatusKind

	// SpawnTestFailed / ReadCacheFailed carry a message.
	Message string

	// Indeterminate / Abort carry the exit code that triggered them.
	ExitCode int

	// Failed and Passed share these.
	Cached      bool
	Interactive bool

	// Passed only: set iff the working tree after the command differs from
	// the commit's tree and contains no staged changes or conflicts.
	FixedTree *TreeID
}

// CheckoutFailed builds the CheckoutFailed status.
func CheckoutFailed() TestStatus { return TestStatus{Kind: StatusCheckoutFailed} }

// SpawnTestFailed builds the SpawnTestFailed status.
func SpawnTestFailed(msg string) TestStatus {
	return TestStatus{Kind: StatusSpawnTestFailed, Message: msg}
}

// TerminatedBySignal builds the TerminatedBySignal status.
func TerminatedBySignal() TestStatus { return TestStatus{Kind: StatusTerminatedBySignal} }

// AlreadyInProgress builds the AlreadyInProgress status.
func AlreadyInProgress() TestStatus { return TestStatus{Kind: StatusAlreadyInProgress} }

// ReadCacheFailed builds the ReadCacheFailed status.
func ReadCacheFailed(msg string) TestStatus {
	return TestStatus{Kind: StatusReadCacheFailed, Message: msg}
}

// Indeterminate builds the Indeterminate status for the given exit code.
func Indeterminate(exitCode int) TestStatus {
	return TestStatus{Kind: StatusIndeterminate, ExitCode: exitCode}
}

// Abort builds the Abort status for the given exit code.
func Abort(exitCode int) TestStatus {
	return TestStatus{Kind: StatusAbort, ExitCode: exitCode}
}

// Failed builds the Failed status.
func Failed(cached bool, exitCode int, interactive bool) TestStatus {
	return TestStatus{Kind: StatusFailed, Cached: cached, ExitCode: exitCode, Interactive: interactive}
}

// Passed builds the Passed status.
func Passed(cached bool, fixedTree *TreeID, interactive bool) TestStatus {
	return TestStatus{Kind: StatusPassed, Cached: cached, FixedTree: fixedTree, Interactive: interactive}
}

// ClassifyExitCode maps a raw process exit code to the corresponding
// TestStatus, per the invariant that 125 and 127 never become Failed/Passed.
func ClassifyExitCode(exitCode int, cached, interactive bool, fixedTree *TreeID) TestStatus {
	switch exitCode {
	case IndeterminateExitCode:
		return Indeterminate(exitCode)
	case AbortExitCode:
		return Abort(exitCode)
	case 0:
		return Passed(cached, fixedTree, interactive)
	default:
		return Failed(cached, exitCode, interactive)
	}
}

// Icon returns a short glyph describing the status, used by Reporter.
func (s TestStatus) Icon() string {
	switch s.Kind {
	case StatusFailed, StatusAbort:
		return "✗"
	case StatusPassed:
		return "✓"
	default:
		return "!"
	}
}

// Bucket classifies the status into one of the Reporter's aggregate buckets.
type Bucket int

const (
	// BucketPassed counts toward the passed total.
	BucketPassed Bucket = iota
	// BucketFailed counts toward the failed total.
	BucketFailed
	// BucketSkipped counts toward the skipped total (everything else).
	BucketSkipped
)

// Bucket maps the status to its Reporter aggregate bucket.
func (s TestStatus) Bucket() Bucket {
	switch s.Kind {
	case StatusPassed:
		return BucketPassed
	case StatusFailed, StatusAbort:
		return BucketFailed
	default:
		return BucketSkipped
	}
}

// TestOutput pairs a TestStatus with the paths to the persisted stdout and
// stderr files produced by the run (or by a previous cached run).
type TestOutput struct {
	Status     TestStatus
	StdoutPath string
	StderrPath string
}

// CacheRecord is the stable, persisted schema for a cache slot's result file.
type CacheRecord struct {
	Command     string  `json:"command"`
	ExitCode    int     `json:"exit_code"`
	FixedTree   *string `json:"fixed_tree_oid"`
	Interactive bool    `json:"interactive"`
}

// SearchBounds is the maximal passing frontier and minimal failing frontier
// known to the search driver, restricted to the candidate set.
type SearchBounds struct {
	Success map[CommitID]struct{}
	Failure map[CommitID]struct{}
}

// NewSearchBounds returns an empty SearchBounds.
func NewSearchBounds() SearchBounds {
	return SearchBounds{
		Success: make(map[CommitID]struct{}),
		Failure: make(map[CommitID]struct{}),
	}
}

// Observation is the caller-facing classification of a TestStatus used by
// the search driver: a command's raw outcome collapses to one of three
// buckets before it can prune the ambiguous region.
type Observation int

const (
	// ObservationSuccess implies every ancestor in the candidate set passes too.
	ObservationSuccess Observation = iota
	// ObservationFailure implies every descendant in the candidate set fails too.
	ObservationFailure
	// ObservationIndeterminate prunes nothing.
	ObservationIndeterminate
)

// ToObservation maps a TestStatus to the Observation the search driver
// should record for it.
func (s TestStatus) ToObservation() Observation {
	switch s.Kind {
	case StatusPassed:
		return ObservationSuccess
	case StatusFailed:
		return ObservationFailure
	default:
		return ObservationIndeterminate
	}
}
