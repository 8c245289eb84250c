// Package search implements SearchGraph and SearchDriver: the
// ancestor/descendant view over the candidate commit set, and the adaptive
// linear/reverse-linear/bisection search driver built on top of it.
package search

import (
	"sort"

	"github.com/gittest/gittest/internal/model"
	"github.com/gittest/gittest/internal/vcs"
)

// Strategy selects the search algorithm.
type Strategy int

const (
	// Linear scans in topological order from the oldest candidate onward.
	Linear Strategy = iota
	// LinearReverse scans from the newest candidate backward.
	LinearReverse
	// Binary bisects the ambiguous region.
	Binary
)

// ParseStrategy maps the CLI's --search flag value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "linear":
		return Linear, nil
	case "reverse":
		return LinearReverse, nil
	case "binary":
		return Binary, nil
	default:
		return 0, &UnknownStrategyError{Value: s}
	}
}

// UnknownStrategyError reports an unrecognized --search value.
type UnknownStrategyError struct{ Value string }

func (e *UnknownStrategyError) Error() string {
	return "unrecognized search strategy: " + e.Value
}

// Graph wraps a vcs.Repo with the candidate set C, exposing ancestor and
// descendant queries restricted to C. It holds only a borrow of the repo
// and the (immutable) candidate slice — no caching, no back-references.
type Graph struct {
	repo       vcs.Repo
	candidates []model.CommitID
}

// NewGraph returns a Graph over candidates, ordered however the caller
// supplies them (Driver does not sort; it relies on the caller's order).
func NewGraph(repo vcs.Repo, candidates []model.CommitID) *Graph {
	return &Graph{repo: repo, candidates: candidates}
}

// Ancestors returns { a in C : a is an ancestor of x } ∪ {x}.
func (g *Graph) Ancestors(x model.CommitID) ([]model.CommitID, error) {
	result, err := g.repo.Ancestors(g.candidates, x)
	if err != nil {
		return nil, err
	}
	return ensureContains(result, x), nil
}

// Descendants returns { d in C : d is a descendant of x } ∪ {x}.
func (g *Graph) Descendants(x model.CommitID) ([]model.CommitID, error) {
	result, err := g.repo.Descendants(g.candidates, x)
	if err != nil {
		return nil, err
	}
	return ensureContains(result, x), nil
}

func ensureContains(set []model.CommitID, x model.CommitID) []model.CommitID {
	for _, c := range set {
		if c == x {
			return set
		}
	}
	return append(set, x)
}

// Driver maintains SearchBounds and yields the next frontier of commits to
// probe for a given Strategy.
type Driver struct {
	graph      *Graph
	strategy   Strategy
	candidates []model.CommitID // sorted ascending by caller-provided topo order
	bounds     model.SearchBounds
	determined map[model.CommitID]struct{}

	// cursor tracks the scan position for Linear/LinearReverse.
	cursor int
}

// NewDriver returns a Driver over candidates (expected in ascending
// topological order — oldest first) for the given strategy.
func NewDriver(graph *Graph, strategy Strategy, candidates []model.CommitID) *Driver {
	return &Driver{
		graph:      graph,
		strategy:   strategy,
		candidates: candidates,
		bounds:     model.NewSearchBounds(),
		determined: make(map[model.CommitID]struct{}),
	}
}

// Bounds returns the driver's current success/failure frontiers.
func (d *Driver) Bounds() model.SearchBounds {
	return d.bounds
}

// Notify records an observation for commit and propagates implied results
// to ancestors (on Success) or descendants (on Failure).
func (d *Driver) Notify(commit model.CommitID, obs model.Observation) error {
	d.determined[commit] = struct{}{}

	switch obs {
	case model.ObservationSuccess:
		d.bounds.Success[commit] = struct{}{}
		ancestors, err := d.graph.Ancestors(commit)
		if err != nil {
			return err
		}
		for _, a := range ancestors {
			d.bounds.Success[a] = struct{}{}
			d.determined[a] = struct{}{}
		}
	case model.ObservationFailure:
		d.bounds.Failure[commit] = struct{}{}
		descendants, err := d.graph.Descendants(commit)
		if err != nil {
			return err
		}
		for _, desc := range descendants {
			d.bounds.Failure[desc] = struct{}{}
			d.determined[desc] = struct{}{}
		}
	}
	return nil
}

// Next returns up to n commits the driver wants probed next. An empty
// result means the search is complete: any further probe would be
// redundant given the current bounds and strategy.
func (d *Driver) Next(n int) ([]model.CommitID, error) {
	switch d.strategy {
	case Linear:
		return d.nextLinear(n, false)
	case LinearReverse:
		return d.nextLinear(n, true)
	case Binary:
		return d.nextBinary(n)
	default:
		return nil, &UnknownStrategyError{}
	}
}

func (d *Driver) nextLinear(n int, reverse bool) ([]model.CommitID, error) {
	var result []model.CommitID
	order := d.candidates
	if reverse {
		order = reversed(d.candidates)
	}
	for d.cursor < len(order) && len(result) < n {
		c := order[d.cursor]
		d.cursor++
		if _, done := d.determined[c]; done {
			continue
		}
		// Linear scans oldest first and stops at the first recorded
		// failure; LinearReverse scans newest first and stops at the first
		// recorded success, since every older commit is then implied
		// Success and the first failure lies just after it.
		stop := len(d.bounds.Failure) > 0
		if reverse {
			stop = len(d.bounds.Success) > 0
		}
		if stop {
			break
		}
		result = append(result, c)
	}
	return result, nil
}

func reversed(in []model.CommitID) []model.CommitID {
	out := make([]model.CommitID, len(in))
	for i, c := range in {
		out[len(in)-1-i] = c
	}
	return out
}

// nextBinary picks the midpoint of the current ambiguous region: the
// candidates not yet implied Success or Failure, ranked by how many
// ambiguous commits are its ancestors (its rank within the ambiguous
// region). The candidate whose rank is closest to half the region's size
// splits it most evenly regardless of which side turns out to fail, which
// is what makes this a bisection rather than a linear scan. Ties on that
// distance prefer the candidate with the most still-ambiguous ancestors
// (the one that prunes the larger side first), and only fall back to
// commit id once both are equal.
func (d *Driver) nextBinary(n int) ([]model.CommitID, error) {
	ambiguous := d.ambiguousSet()
	total := len(ambiguous)
	if total == 0 {
		return nil, nil
	}

	type scored struct {
		commit      model.CommitID
		distToMid   int
		ambAncestor int
	}
	target := (total + 1) / 2
	candidates := make([]scored, 0, total)
	for _, c := range ambiguous {
		ancestors, err := d.graph.Ancestors(c)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, a := range ancestors {
			if _, ok := ambiguous[a]; ok {
				count++
			}
		}
		dist := count - target
		if dist < 0 {
			dist = -dist
		}
		candidates = append(candidates, scored{commit: c, distToMid: dist, ambAncestor: count})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distToMid != candidates[j].distToMid {
			return candidates[i].distToMid < candidates[j].distToMid
		}
		if candidates[i].ambAncestor != candidates[j].ambAncestor {
			return candidates[i].ambAncestor > candidates[j].ambAncestor
		}
		return candidates[i].commit < candidates[j].commit
	})

	var result []model.CommitID
	for i := 0; i < len(candidates) && len(result) < n; i++ {
		result = append(result, candidates[i].commit)
	}
	return result, nil
}

// ambiguousSet returns the candidates not yet implied Success or Failure.
func (d *Driver) ambiguousSet() map[model.CommitID]struct{} {
	out := make(map[model.CommitID]struct{})
	for _, c := range d.candidates {
		if _, ok := d.bounds.Success[c]; ok {
			continue
		}
		if _, ok := d.bounds.Failure[c]; ok {
			continue
		}
		out[c] = struct{}{}
	}
	return out
}
