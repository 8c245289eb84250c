// Package fixplan implements FixPlanner: turning passing results that
// produced a fixed_tree into replacement commits and a rebase plan that
// re-parents their descendants.
package fixplan

import (
	"fmt"

	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/vcs"
)

// Fix pairs an original commit with the replacement commit built from its
// fixed tree.
type Fix struct {
	OriginalCommit  model.CommitID
	OriginalParents []model.CommitID
	FixedCommit     model.CommitID
}

// RebasePlanEntry describes one commit's new parentage after applying a
// set of fixes: either it is itself a fix target (replaced outright) or it
// is a descendant inheriting the new ancestor chain (identity-replaced).
type RebasePlanEntry struct {
	Original    model.CommitID
	Replacement model.CommitID
	NewParents  []model.CommitID
}

// Plan is the full rewrite plan: one entry per affected commit, in
// dependency order (parents before children).
type Plan struct {
	Fixes   []Fix
	Entries []RebasePlanEntry
}

// Planner builds Fixes and rebase Plans from passing results with
// fixed_tree set.
type Planner struct {
	repo vcs.Repo
}

// NewPlanner returns a Planner backed by repo for commit construction and
// descendant queries.
func NewPlanner(repo vcs.Repo) *Planner {
	return &Planner{repo: repo}
}

// PassingFix is one commit whose command run produced a differing, clean
// tree, as recorded by CommandRunner.
type PassingFix struct {
	Commit    model.CommitID
	FixedTree model.TreeID
}

// Build constructs Fixes for each passing result with fixed_tree set,
// skipping any whose rebuilt commit happens to equal the original (the
// tree was identical after escaping/dedup).
func (p *Planner) Build(passing []PassingFix) ([]Fix, error) {
	var fixes []Fix
	for _, pf := range passing {
		info, err := p.repo.CommitInfo(pf.Commit)
		if err != nil {
			return nil, fmt.Errorf("reading commit info for %s: %w", pf.Commit, err)
		}

		newID, err := p.repo.CreateCommit(info.Parents, pf.FixedTree, info.Author, info.Committer, info.Message)
		if err != nil {
			return nil, fmt.Errorf("building fixed commit for %s: %w", pf.Commit, err)
		}

		if newID == pf.Commit {
			continue
		}

		fixes = append(fixes, Fix{
			OriginalCommit:  pf.Commit,
			OriginalParents: info.Parents,
			FixedCommit:     newID,
		})
	}
	return fixes, nil
}

// BuildPlan constructs the rebase plan for fixes: each fix replaces its
// original at the same parents; every visible descendant not itself a fix
// target is identity-replaced so it inherits the new ancestor chain.
func (p *Planner) BuildPlan(candidates []model.CommitID, fixes []Fix) (*Plan, error) {
	byOriginal := make(map[model.CommitID]Fix, len(fixes))
	for _, f := range fixes {
		byOriginal[f.OriginalCommit] = f
	}

	// remap holds known replacement ids (only fixes have one yet; a
	// descendant's replacement isn't minted until Apply). affected tracks
	// every commit that has gained a plan entry, fix or descendant alike,
	// so a multi-hop descendant (grandchild of a fix, and beyond) is still
	// recognized as needing rewrite even though its immediate parent's own
	// replacement id isn't known until Apply runs.
	remap := make(map[model.CommitID]model.CommitID, len(fixes))
	affected := make(map[model.CommitID]bool, len(fixes))
	for _, f := range fixes {
		remap[f.OriginalCommit] = f.FixedCommit
		affected[f.OriginalCommit] = true
	}

	plan := &Plan{Fixes: fixes}

	for _, fix := range fixes {
		plan.Entries = append(plan.Entries, RebasePlanEntry{
			Original:    fix.OriginalCommit,
			Replacement: fix.FixedCommit,
			NewParents:  fix.OriginalParents,
		})
	}

	for _, c := range candidates {
		if _, isFix := byOriginal[c]; isFix {
			continue
		}
		info, err := p.repo.CommitInfo(c)
		if err != nil {
			return nil, fmt.Errorf("reading commit info for %s: %w", c, err)
		}
		isAffected := false
		newParents := make([]model.CommitID, len(info.Parents))
		for i, parent := range info.Parents {
			if repl, ok := remap[parent]; ok {
				newParents[i] = repl
			} else {
				newParents[i] = parent
			}
			if affected[parent] {
				isAffected = true
			}
		}
		if !isAffected {
			continue
		}
		plan.Entries = append(plan.Entries, RebasePlanEntry{
			Original:   c,
			NewParents: newParents,
		})
		affected[c] = true
	}

	return plan, nil
}

// Apply executes the plan by creating commits: it replaces each original
// commit with its rebase entry in turn, in the order BuildPlan produced
// (fix targets first, then descendants), re-chaining each descendant's
// parents onto whatever replacement its own parents received earlier in
// the same Apply call. It only creates the replacement commits; no branch,
// ref or HEAD is moved to them. Dry-run short-circuits before any mutation
// and the caller reports the planned mapping instead.
func (p *Planner) Apply(plan *Plan, dryRun bool) error {
	if dryRun {
		return nil
	}
	remap := make(map[model.CommitID]model.CommitID, len(plan.Entries))
	for i := range plan.Entries {
		entry := &plan.Entries[i]

		parents := make([]model.CommitID, len(entry.NewParents))
		for j, parent := range entry.NewParents {
			if repl, ok := remap[parent]; ok {
				parents[j] = repl
			} else {
				parents[j] = parent
			}
		}

		if entry.Replacement == "" {
			// Identity-replace: descendant keeps its own tree, only its
			// parent list changes.
			info, err := p.repo.CommitInfo(entry.Original)
			if err != nil {
				return fmt.Errorf("reading commit info for %s: %w", entry.Original, err)
			}
			newID, err := p.repo.CreateCommit(parents, info.Tree, info.Author, info.Committer, info.Message)
			if err != nil {
				return fmt.Errorf("rewriting descendant %s: %w", entry.Original, err)
			}
			entry.Replacement = newID
		}

		remap[entry.Original] = entry.Replacement
	}
	return nil
}
