// Package cache implements the content-addressed, tree-keyed test-result
// cache: one slot per (tree_id, command) pair, guarded by a non-blocking
// PID lock, with crash recovery via an empty-result sentinel.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/gittest/gittest/internal/model"
)

// slotUnsafe matches the characters the command slug must collapse to
// avoid producing invalid or ambiguous directory names.
var slotUnsafe = regexp.MustCompile(`[/ \n]`)

// Slug escapes a command string into a directory-safe slug. Collisions
// after escaping are acceptable: the stored record carries the exact
// command for verification.
func Slug(command string) string {
	return slotUnsafe.ReplaceAllString(command, "__")
}

// Store is the on-disk cache rooted at <repo>/test/.
type Store struct {
	root string
}

// NewStore returns a Store rooted at repoDir/test.
func NewStore(repoDir string) *Store {
	return &Store{root: filepath.Join(repoDir, "test")}
}

// Root returns the cache's root directory.
func (s *Store) Root() string { return s.root }

// SlotDir returns the directory for a given tree/command pair.
func (s *Store) SlotDir(tree model.TreeID, command string) string {
	return filepath.Join(s.root, string(tree), Slug(command))
}

// SlotFiles is the set of open handles returned by a successful Acquire,
// ready for CommandRunner to redirect the spawned process's stdio into.
type SlotFiles struct {
	Dir    string
	Result *os.File
	Stdout *os.File
	Stderr *os.File
	lock   *os.File
}

// Close releases the slot's lock and closes every open handle. It does not
// remove any file; Commit is responsible for persisting the result.
func (f *SlotFiles) Close() error {
	var firstErr error
	for _, h := range []*os.File{f.Result, f.Stdout, f.Stderr} {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.lock != nil {
		_ = syscall.Flock(int(f.lock.Fd()), syscall.LOCK_UN)
		if err := f.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AcquireResult is the outcome of Acquire: exactly one of Files or Status
// is meaningful, selected by Cached.
type AcquireResult struct {
	// Files is set when the caller now owns the slot and must run the
	// command and call Commit.
	Files *SlotFiles
	// Cached is set when no command should be spawned: a prior result was
	// read (or failed to parse), or another holder has the slot's lock.
	// Status carries the derived TestStatus.
	Cached bool
	Status model.TestStatus
}

// Acquire implements the CacheStore.acquire operation from the design: it
// takes the slot's non-blocking lock, checks for a usable cached result,
// and otherwise hands back open handles for a fresh run.
func (s *Store) Acquire(tree model.TreeID, command string) (AcquireResult, error) {
	dir := s.SlotDir(tree, command)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return AcquireResult{}, fmt.Errorf("creating slot directory %s: %w", dir, err)
	}

	lockPath := filepath.Join(dir, "pid.lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return AcquireResult{Cached: true, Status: model.AlreadyInProgress()}, nil
	}

	// Record our pid for diagnostic purposes; failure to write is not fatal.
	_ = lockFile.Truncate(0)
	_, _ = lockFile.Seek(0, 0)
	_, _ = fmt.Fprintf(lockFile, "%d\n", os.Getpid())

	resultPath := filepath.Join(dir, "result")
	existing, err := os.ReadFile(resultPath)
	if err == nil && len(strings.TrimSpace(string(existing))) > 0 {
		status, parseErr := parseRecord(existing)
		if parseErr != nil {
			_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
			_ = lockFile.Close()
			return AcquireResult{Cached: true, Status: model.ReadCacheFailed(parseErr.Error())}, nil
		}
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
		return AcquireResult{Cached: true, Status: status}, nil
	}
	// err != nil (no file yet) or empty file (prior writer crashed): both
	// mean the slot is absent and we proceed to acquire it fresh.

	resultFile, err := os.OpenFile(resultPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
		return AcquireResult{}, fmt.Errorf("creating result file: %w", err)
	}
	stdoutFile, err := os.OpenFile(filepath.Join(dir, "stdout"), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		_ = resultFile.Close()
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
		return AcquireResult{}, fmt.Errorf("creating stdout file: %w", err)
	}
	stderrFile, err := os.OpenFile(filepath.Join(dir, "stderr"), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		_ = stdoutFile.Close()
		_ = resultFile.Close()
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
		return AcquireResult{}, fmt.Errorf("creating stderr file: %w", err)
	}

	return AcquireResult{Files: &SlotFiles{
		Dir:    dir,
		Result: resultFile,
		Stdout: stdoutFile,
		Stderr: stderrFile,
		lock:   lockFile,
	}}, nil
}

// parseRecord maps a persisted CacheRecord to the TestStatus a reader
// derives from it, per the exit-code mapping invariant (cached=true
// throughout, since reading an existing record never spawns a command).
func parseRecord(data []byte) (model.TestStatus, error) {
	var rec model.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.TestStatus{}, fmt.Errorf("parsing cache record: %w", err)
	}

	var fixedTree *model.TreeID
	if rec.FixedTree != nil {
		t := model.TreeID(*rec.FixedTree)
		fixedTree = &t
	}

	return model.ClassifyExitCode(rec.ExitCode, true, rec.Interactive, fixedTree), nil
}

// Commit JSON-encodes record into the slot's result file and releases the
// slot's lock via Close. Callers must call Commit (or discard the files
// without writing, leaving an empty result for crash recovery) before the
// SlotFiles value is dropped.
func (s *Store) Commit(files *SlotFiles, record model.CacheRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding cache record: %w", err)
	}
	if _, err := files.Result.Seek(0, 0); err != nil {
		return fmt.Errorf("seeking result file: %w", err)
	}
	if err := files.Result.Truncate(0); err != nil {
		return fmt.Errorf("truncating result file: %w", err)
	}
	if _, err := files.Result.Write(data); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}
	return files.Close()
}

// Clean removes the tree-keyed directories for the given trees, implementing
// the `clean` subcommand's deletion of cached results for a revset.
func (s *Store) Clean(trees []model.TreeID) error {
	for _, t := range trees {
		dir := filepath.Join(s.root, string(t))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing cache directory %s: %w", dir, err)
		}
	}
	return nil
}

// Peek reads the slot's result without taking its lock, for the `show`
// subcommand. An empty or absent file is reported as "no cached data"
// rather than an error.
func (s *Store) Peek(tree model.TreeID, command string) (model.TestStatus, bool, error) {
	resultPath := filepath.Join(s.SlotDir(tree, command), "result")
	data, err := os.ReadFile(resultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.TestStatus{}, false, nil
		}
		return model.TestStatus{}, false, fmt.Errorf("reading result file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return model.TestStatus{}, false, nil
	}
	status, err := parseRecord(data)
	if err != nil {
		return model.ReadCacheFailed(err.Error()), true, nil
	}
	return status, true, nil
}

// OutputPaths returns the stdout/stderr file paths for a slot, for Reporter
// to read when rendering PartialOutput/FullOutput verbosity.
func (s *Store) OutputPaths(tree model.TreeID, command string) (stdout, stderr string) {
	dir := s.SlotDir(tree, command)
	return filepath.Join(dir, "stdout"), filepath.Join(dir, "stderr")
}

// WorkingCopyLockPath returns the path to the single working-copy lock.
func (s *Store) WorkingCopyLockPath() string {
	return filepath.Join(s.root, "locks", "working-copy.lock")
}

// WorktreeLockPath returns the path to worker id's worktree lock.
func (s *Store) WorktreeLockPath(workerID int) string {
	return filepath.Join(s.root, "locks", fmt.Sprintf("worktree-%d.lock", workerID))
}

// WorktreePath returns the path to worker id's worktree slot directory.
func (s *Store) WorktreePath(workerID int) string {
	return filepath.Join(s.root, "worktrees", fmt.Sprintf("testing-worktree-%d", workerID))
}
