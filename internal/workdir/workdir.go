// Package workdir implements WorkDirBroker: acquiring an exclusive working
// directory slot (the primary working copy, or one of N worktrees) and
// checking out a commit into it.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gittest/gittest/internal/cache"
	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/vcs"
)

// slotHolder is sidecar metadata written alongside a slot's flock file,
// naming which commit and process currently hold it. The flock itself is
// the exclusion mechanism; this file exists so `gittest show`-style
// tooling and operators can inspect a busy slot without racing the lock.
type slotHolder struct {
	PID       int            `yaml:"pid"`
	Commit    model.CommitID `yaml:"commit"`
	StartedAt time.Time      `yaml:"started_at"`
}

// writeSlotHolder writes path+".holder" atomically via temp-file-and-rename.
func writeSlotHolder(lockPath string, commit model.CommitID) {
	holder := slotHolder{PID: os.Getpid(), Commit: commit, StartedAt: time.Now()}
	data, err := yaml.Marshal(holder)
	if err != nil {
		return
	}
	holderPath := lockPath + ".holder"
	tmpPath := holderPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmpPath, holderPath); err != nil {
		_ = os.Remove(tmpPath)
	}
}

// removeSlotHolder deletes the sidecar written by writeSlotHolder.
func removeSlotHolder(lockPath string) {
	_ = os.Remove(lockPath + ".holder")
}

// Strategy selects how working directories are prepared.
type Strategy int

const (
	// WorkingCopy uses the repository's single primary checkout; concurrency
	// is forced to 1.
	WorkingCopy Strategy = iota
	// Worktree uses N independently-locked secondary checkouts.
	Worktree
)

// ParseStrategy maps the CLI's --strategy flag value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "working-copy":
		return WorkingCopy, nil
	case "worktree":
		return Worktree, nil
	default:
		return 0, fmt.Errorf("unrecognized strategy %q", s)
	}
}

// PreparedDir is a successfully acquired, checked-out working directory.
type PreparedDir struct {
	Path string
	lock *os.File

	lockPath string
}

// Release unlocks the slot and removes its holder sidecar. The directory
// itself is left in place for reuse by the next job pulled by the same
// worker.
func (p *PreparedDir) Release() error {
	if p.lockPath != "" {
		removeSlotHolder(p.lockPath)
	}
	if p.lock == nil {
		return nil
	}
	_ = syscall.Flock(int(p.lock.Fd()), syscall.LOCK_UN)
	return p.lock.Close()
}

// PrepareError distinguishes the broker's terminal failure modes.
type PrepareError struct {
	Kind string // "lock_failed", "no_working_copy", "checkout_failed", "create_worktree_failed"
	Path string
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

// ToStatus maps a PrepareError to its terminal TestStatus, per §4.2's
// failure policy: CheckoutFailed and CreateWorktreeFailed both yield
// TestStatus.CheckoutFailed; LockFailed is treated as AlreadyInProgress.
func (e *PrepareError) ToStatus() model.TestStatus {
	switch e.Kind {
	case "lock_failed":
		return model.AlreadyInProgress()
	default:
		return model.CheckoutFailed()
	}
}

// Broker prepares isolated working directories for the configured strategy.
type Broker struct {
	repo     vcs.Repo
	cache    *cache.Store
	strategy Strategy
}

// NewBroker returns a Broker for the given repository, backed by store for
// its fixed lock/worktree path layout.
func NewBroker(repo vcs.Repo, store *cache.Store, strategy Strategy) *Broker {
	return &Broker{repo: repo, cache: store, strategy: strategy}
}

// Prepare acquires slot id's lock and checks out commit into it. For
// WorkingCopy, id is ignored and must be 0 (the cli package's executeRun
// limits this strategy to one job, so no other id is used).
func (b *Broker) Prepare(id int, commit model.CommitID) (*PreparedDir, error) {
	switch b.strategy {
	case WorkingCopy:
		return b.prepareWorkingCopy(commit)
	case Worktree:
		return b.prepareWorktree(id, commit)
	default:
		return nil, fmt.Errorf("unknown strategy %d", b.strategy)
	}
}

func (b *Broker) lockSlot(path string) (*os.File, *PrepareError) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PrepareError{Kind: "lock_failed", Path: path}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &PrepareError{Kind: "lock_failed", Path: path}
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, &PrepareError{Kind: "lock_failed", Path: path}
	}
	return f, nil
}

func (b *Broker) prepareWorkingCopy(commit model.CommitID) (*PreparedDir, error) {
	lockPath := b.cache.WorkingCopyLockPath()
	lock, prepErr := b.lockSlot(lockPath)
	if prepErr != nil {
		return nil, prepErr
	}

	path, err := b.repo.WorkingCopyPath()
	if err != nil {
		_ = lock.Close()
		return nil, &PrepareError{Kind: "no_working_copy", Path: ""}
	}

	if err := b.repo.ResetHard(commit); err != nil {
		_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		_ = lock.Close()
		return nil, &PrepareError{Kind: "checkout_failed", Path: path}
	}

	writeSlotHolder(lockPath, commit)
	return &PreparedDir{Path: path, lock: lock, lockPath: lockPath}, nil
}

func (b *Broker) prepareWorktree(id int, commit model.CommitID) (*PreparedDir, error) {
	lockPath := b.cache.WorktreeLockPath(id)
	lock, prepErr := b.lockSlot(lockPath)
	if prepErr != nil {
		return nil, prepErr
	}

	path := b.cache.WorktreePath(id)

	if !b.repo.WorktreeExists(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
			_ = lock.Close()
			return nil, &PrepareError{Kind: "create_worktree_failed", Path: path}
		}
		if err := b.repo.WorktreeAdd(path, commit); err != nil {
			_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
			_ = lock.Close()
			return nil, &PrepareError{Kind: "create_worktree_failed", Path: path}
		}
		writeSlotHolder(lockPath, commit)
		return &PreparedDir{Path: path, lock: lock, lockPath: lockPath}, nil
	}

	if err := b.repo.WorktreeCheckout(path, commit); err != nil {
		_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		_ = lock.Close()
		return nil, &PrepareError{Kind: "checkout_failed", Path: path}
	}

	writeSlotHolder(lockPath, commit)
	return &PreparedDir{Path: path, lock: lock, lockPath: lockPath}, nil
}
