// Package vcs wraps the version-control operations the scheduler, cache,
// and working-directory broker need. Read-only queries (tree ids, parents,
// ancestor/descendant walks) go through go-git; worktree and checkout
// mutations shell out to the git CLI, which go-git does not implement
// cleanly.
package vcs

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/gittest/gittest/internal/model"
)

// WorkingTreeSnapshot classifies the state of a working directory after a
// command has run, for CommandRunner's fixed_tree computation.
type WorkingTreeSnapshot struct {
	// Tree is the computed tree id of the working directory, ignoring
	// untracked files not added to the index.
	Tree model.TreeID
	// State is one of "clean", "unstaged", "staged", "conflicted".
	State string
}

// Repo is the interface the rest of the module uses to talk to the
// underlying repository. A single implementation (*GitRepo) backs it in
// production; tests substitute a fake.
type Repo interface {
	TreeID(commit model.CommitID) (model.TreeID, error)
	Parents(commit model.CommitID) ([]model.CommitID, error)
	Ancestors(candidates []model.CommitID, of model.CommitID) ([]model.CommitID, error)
	Descendants(candidates []model.CommitID, of model.CommitID) ([]model.CommitID, error)
	CommitInfo(commit model.CommitID) (model.CommitInfo, error)
	WorkingCopyPath() (string, error)
	RepoDir() string
	ResetHard(commit model.CommitID) error
	WorktreeAdd(path string, commit model.CommitID) error
	WorktreeCheckout(path string, commit model.CommitID) error
	WorktreeExists(path string) bool
	SnapshotTree(dir string) (WorkingTreeSnapshot, error)
	CreateCommit(parents []model.CommitID, tree model.TreeID, author, committer model.Signature, message string) (model.CommitID, error)
	RebaseAbort() error
	RebaseBreakTrap() error
}

// GitRepo is the production Repo implementation.
type GitRepo struct {
	repo *git.Repository
	dir  string
}

// Open opens the repository rooted at dir (or walks up from the current
// directory, go-git style, when dir is empty).
func Open(dir string) (*GitRepo, error) {
	opts := &git.PlainOpenOptions{DetectDotGit: true}
	repo, err := git.PlainOpenWithOptions(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %q: %w", dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree root: %w", err)
	}

	return &GitRepo{repo: repo, dir: wt.Filesystem.Root()}, nil
}

// RepoDir returns the absolute path to the repository's primary working copy.
func (r *GitRepo) RepoDir() string {
	return r.dir
}

// WorkingCopyPath returns the same path as RepoDir; it exists so callers can
// treat the primary checkout uniformly with worktree slots.
func (r *GitRepo) WorkingCopyPath() (string, error) {
	return r.dir, nil
}

func (r *GitRepo) commitObject(commit model.CommitID) (*object.Commit, error) {
	hash := plumbing.NewHash(string(commit))
	c, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("resolving commit %s: %w", commit, err)
	}
	return c, nil
}

// TreeID returns the root tree hash of the given commit.
func (r *GitRepo) TreeID(commit model.CommitID) (model.TreeID, error) {
	c, err := r.commitObject(commit)
	if err != nil {
		return "", err
	}
	return model.TreeID(c.TreeHash.String()), nil
}

// Parents returns the commit's parent ids, in order.
func (r *GitRepo) Parents(commit model.CommitID) ([]model.CommitID, error) {
	c, err := r.commitObject(commit)
	if err != nil {
		return nil, err
	}
	parents := make([]model.CommitID, len(c.ParentHashes))
	for i, h := range c.ParentHashes {
		parents[i] = model.CommitID(h.String())
	}
	return parents, nil
}

// CommitInfo returns the metadata needed to rebuild an equivalent commit.
func (r *GitRepo) CommitInfo(commit model.CommitID) (model.CommitInfo, error) {
	c, err := r.commitObject(commit)
	if err != nil {
		return model.CommitInfo{}, err
	}
	parents, err := r.Parents(commit)
	if err != nil {
		return model.CommitInfo{}, err
	}
	return model.CommitInfo{
		ID:      commit,
		Tree:    model.TreeID(c.TreeHash.String()),
		Parents: parents,
		Author: model.Signature{
			Name:  c.Author.Name,
			Email: c.Author.Email,
		},
		Committer: model.Signature{
			Name:  c.Committer.Name,
			Email: c.Committer.Email,
		},
		Message: c.Message,
	}, nil
}

// Ancestors walks the commit graph from `of`, intersecting against
// candidates, the same filter-after-walk approach the teacher's branch
// listing uses (collect everything, then keep what's relevant).
func (r *GitRepo) Ancestors(candidates []model.CommitID, of model.CommitID) ([]model.CommitID, error) {
	set := toSet(candidates)
	visited := make(map[model.CommitID]struct{})
	var result []model.CommitID

	var walk func(model.CommitID) error
	walk = func(cur model.CommitID) error {
		if _, ok := visited[cur]; ok {
			return nil
		}
		visited[cur] = struct{}{}
		if _, ok := set[cur]; ok {
			result = append(result, cur)
		}
		parents, err := r.Parents(cur)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(of); err != nil {
		return nil, err
	}
	return result, nil
}

// Descendants keeps each candidate from which `of` is reachable by walking
// parent links (isAncestor), since go-git exposes no reverse-edge index.
func (r *GitRepo) Descendants(candidates []model.CommitID, of model.CommitID) ([]model.CommitID, error) {
	var result []model.CommitID
	for _, c := range candidates {
		isDesc, err := r.isAncestor(of, c)
		if err != nil {
			return nil, err
		}
		if isDesc {
			result = append(result, c)
		}
	}
	return result, nil
}

// isAncestor reports whether ancestor is reachable from commit by walking
// parent links.
func (r *GitRepo) isAncestor(ancestor, commit model.CommitID) (bool, error) {
	if ancestor == commit {
		return true, nil
	}
	visited := make(map[model.CommitID]struct{})
	queue := []model.CommitID{commit}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		if cur == ancestor {
			return true, nil
		}
		parents, err := r.Parents(cur)
		if err != nil {
			return false, err
		}
		queue = append(queue, parents...)
	}
	return false, nil
}

func toSet(ids []model.CommitID) map[model.CommitID]struct{} {
	set := make(map[model.CommitID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// runGit executes the git CLI in dir, returning combined stdout/stderr on
// failure so callers can surface a useful error.
func runGit(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.Bytes(), nil
}

// ResetHard resets the primary working copy to commit, discarding local
// changes. Used only by the WorkingCopy strategy.
func (r *GitRepo) ResetHard(commit model.CommitID) error {
	_, err := runGit(r.dir, "reset", "--hard", string(commit))
	return err
}

// WorktreeExists reports whether path is already a registered worktree.
func (r *GitRepo) WorktreeExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	out, err := runGit(r.dir, "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			if strings.TrimPrefix(line, "worktree ") == abs {
				return true
			}
		}
	}
	return false
}

// WorktreeAdd creates a new worktree at path checked out to commit in
// detached-HEAD mode, forcing past any stale lock.
func (r *GitRepo) WorktreeAdd(path string, commit model.CommitID) error {
	_, err := runGit(r.dir, "worktree", "add", "--force", "--detach", path, string(commit))
	return err
}

// WorktreeCheckout force-checks-out commit inside an existing worktree
// directory.
func (r *GitRepo) WorktreeCheckout(path string, commit model.CommitID) error {
	_, err := runGit(path, "checkout", "--force", string(commit))
	return err
}

// SnapshotTree computes the tree id of dir's current index/working state
// and classifies it as clean, unstaged, staged, or conflicted, following
// `git status --porcelain`'s status-code columns.
func (r *GitRepo) SnapshotTree(dir string) (WorkingTreeSnapshot, error) {
	out, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		return WorkingTreeSnapshot{}, err
	}

	state := classifyStatus(out)

	writeOut, err := runGit(dir, "write-tree")
	if err != nil {
		return WorkingTreeSnapshot{}, err
	}
	tree := strings.TrimSpace(string(writeOut))

	if state == "unstaged" || state == "clean" {
		// write-tree reflects the index, not unstaged working-tree edits;
		// stash-free snapshot of unstaged content requires a throwaway
		// index write via `git stash create`-equivalent.
		treeOut, err := runGit(dir, "stash", "create")
		if err == nil && len(bytes.TrimSpace(treeOut)) > 0 {
			stashCommit := strings.TrimSpace(string(treeOut))
			treeHashOut, err := runGit(dir, "show", "-s", "--format=%T", stashCommit)
			if err == nil {
				tree = strings.TrimSpace(string(treeHashOut))
			}
		}
	}

	return WorkingTreeSnapshot{Tree: model.TreeID(tree), State: state}, nil
}

// classifyStatus maps `git status --porcelain` output to one of clean,
// unstaged, staged, conflicted.
func classifyStatus(out []byte) string {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return "clean"
	}
	staged := false
	conflicted := false
	unstagedOnly := true
	for _, line := range strings.Split(string(trimmed), "\n") {
		if len(line) < 2 {
			continue
		}
		x, y := line[0], line[1]
		if x == 'U' || y == 'U' || (x == 'A' && y == 'A') || (x == 'D' && y == 'D') {
			conflicted = true
			continue
		}
		if x != ' ' && x != '?' {
			staged = true
			unstagedOnly = false
		}
	}
	switch {
	case conflicted:
		return "conflicted"
	case staged:
		return "staged"
	case unstagedOnly:
		return "unstaged"
	default:
		return "clean"
	}
}

// CreateCommit builds a new commit object with the given parents, tree, and
// provenance, via `git commit-tree`, which accepts a tree id directly
// without requiring a checked-out index.
func (r *GitRepo) CreateCommit(parents []model.CommitID, tree model.TreeID, author, committer model.Signature, message string) (model.CommitID, error) {
	args := []string{"commit-tree", string(tree)}
	for _, p := range parents {
		args = append(args, "-p", string(p))
	}
	args = append(args, "-m", message)

	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+author.Name,
		"GIT_AUTHOR_EMAIL="+author.Email,
		"GIT_COMMITTER_NAME="+committer.Name,
		"GIT_COMMITTER_EMAIL="+committer.Email,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git commit-tree: %w: %s", err, errBuf.String())
	}
	return model.CommitID(strings.TrimSpace(out.String())), nil
}

// RebaseAbort releases the on-disk abort trap, per §7's rebase break-trap
// protocol for the WorkingCopy strategy.
func (r *GitRepo) RebaseAbort() error {
	_, err := runGit(r.dir, "rebase", "--abort")
	return err
}

// RebaseBreakTrap starts an interactive rebase of HEAD onto its own parent
// whose sequence editor rewrites the todo list down to a single "break"
// step, mirroring git-branchless's RebasePlan{commands: [Break]}. Rebasing
// onto HEAD~1 gives git a non-empty range to rebase; overwriting the todo
// with "break" means no commit is actually replayed — the rebase simply
// halts immediately, leaving .git/rebase-merge on disk until the caller
// runs RebaseAbort (or the user runs `git rebase --abort` by hand).
func (r *GitRepo) RebaseBreakTrap() error {
	if _, err := r.repo.Head(); err != nil {
		return fmt.Errorf("resolving HEAD for abort trap: %w", err)
	}
	cmd := exec.Command("git", "rebase", "-i", "HEAD~1")
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), `GIT_SEQUENCE_EDITOR=sh -c 'echo break > "$1"' --`)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("initiating abort trap: %w: %s", err, errBuf.String())
	}
	return nil
}
