package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyExitCode(t *testing.T) {
	tree := TreeID("abc123")

	tests := map[string]struct {
		exitCode    int
		cached      bool
		interactive bool
		fixedTree   *TreeID
		wantKind    TestStatusKind
	}{
		"zero is passed":            {exitCode: 0, wantKind: StatusPassed},
		"125 is indeterminate":      {exitCode: 125, wantKind: StatusIndeterminate},
		"127 is abort":              {exitCode: 127, wantKind: StatusAbort},
		"one is failed":             {exitCode: 1, wantKind: StatusFailed},
		"arbitrary nonzero is failed": {exitCode: 42, wantKind: StatusFailed},
		"passed with fixed tree":    {exitCode: 0, fixedTree: &tree, wantKind: StatusPassed},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			status := ClassifyExitCode(tc.exitCode, tc.cached, tc.interactive, tc.fixedTree)
			assert.Equal(t, tc.wantKind, status.Kind)
			if tc.wantKind == StatusPassed {
				assert.Equal(t, tc.fixedTree, status.FixedTree)
			}
		})
	}
}

func TestClassifyExitCodeNeverMisclassifiesSpecialCodes(t *testing.T) {
	// 125 and 127 must never collapse into Failed or Passed regardless of
	// the cached/interactive flags passed alongside them.
	for _, cached := range []bool{false, true} {
		for _, interactive := range []bool{false, true} {
			indeterminate := ClassifyExitCode(IndeterminateExitCode, cached, interactive, nil)
			assert.Equal(t, StatusIndeterminate, indeterminate.Kind)

			abort := ClassifyExitCode(AbortExitCode, cached, interactive, nil)
			assert.Equal(t, StatusAbort, abort.Kind)
		}
	}
}

func TestBucket(t *testing.T) {
	tests := map[string]struct {
		status TestStatus
		want   Bucket
	}{
		"passed buckets as passed":              {status: Passed(false, nil, false), want: BucketPassed},
		"failed buckets as failed":               {status: Failed(false, 1, false), want: BucketFailed},
		"abort buckets as failed":                {status: Abort(127), want: BucketFailed},
		"indeterminate buckets as skipped":       {status: Indeterminate(125), want: BucketSkipped},
		"checkout failed buckets as skipped":     {status: CheckoutFailed(), want: BucketSkipped},
		"already in progress buckets as skipped": {status: AlreadyInProgress(), want: BucketSkipped},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.status.Bucket())
		})
	}
}

func TestToObservation(t *testing.T) {
	assert.Equal(t, ObservationSuccess, Passed(false, nil, false).ToObservation())
	assert.Equal(t, ObservationFailure, Failed(false, 1, false).ToObservation())
	assert.Equal(t, ObservationIndeterminate, Indeterminate(125).ToObservation())
	assert.Equal(t, ObservationIndeterminate, Abort(127).ToObservation())
	assert.Equal(t, ObservationIndeterminate, CheckoutFailed().ToObservation())
}

func TestJobKeyString(t *testing.T) {
	k := JobKey{Commit: "deadbeef", Operation: "deadbeef"}
	assert.Equal(t, "deadbeef(deadbeef)", k.String())
}

func TestCacheRecordHoldsCommandAndFixedTree(t *testing.T) {
	tree := TreeID("fedcba")
	rec := CacheRecord{Command: "go test ./...", ExitCode: 0, FixedTree: strPtr(string(tree)), Interactive: false}
	assert.Equal(t, "go test ./...", rec.Command)
	assert.NotNil(t, rec.FixedTree)
	assert.Equal(t, string(tree), *rec.FixedTree)
}

func strPtr(s string) *string { return &s }
