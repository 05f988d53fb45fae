package plan

import (
	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/errs"
)

// edge is one direction-aware traversal option out of a cube.
type edge struct {
	to           string
	relationship cube.Relationship
	on           []cube.Join
}

// buildAdjacency maps every cube to the cubes reachable from it in one
// hop, including the reverse direction of joins declared *on other
// cubes* pointing at it (since JoinSpec only records the declaring side,
// and the join graph must be traversable from either end for BFS to
// find a path — the teacher's adjacency-map traversal note in
// spec.md §9 Design Notes applies directly here).
func buildAdjacency(r *cube.Registry) (map[string][]edge, error) {
	adj := map[string][]edge{}
	for _, name := range r.CubeNames() {
		joins, err := r.EnumerateJoins(name)
		if err != nil {
			return nil, err
		}
		for _, j := range joins {
			adj[name] = append(adj[name], edge{to: j.Target.Name, relationship: j.Spec.Relationship, on: j.Spec.On})

			adj[j.Target.Name] = append(adj[j.Target.Name], edge{
				to:           name,
				relationship: reverseRelationship(j.Spec.Relationship),
				on:           reverseOns(j.Spec.On),
			})
		}
	}
	return adj, nil
}

func reverseRelationship(r cube.Relationship) cube.Relationship {
	switch r {
	case cube.HasMany:
		return cube.BelongsTo
	case cube.BelongsTo:
		return cube.HasMany
	case cube.HasOne:
		return cube.BelongsTo
	default:
		return r
	}
}

func reverseOns(ons []cube.Join) []cube.Join {
	out := make([]cube.Join, len(ons))
	for i, o := range ons {
		out[i] = cube.Join{SourceColumn: o.TargetColumn, TargetColumn: o.SourceColumn}
	}
	return out
}

// FindJoinPath runs a breadth-first search from primary over the
// declared join graph to reach every cube in `targets`, per spec.md
// §4.D. Multiple alternative paths to the same target cube are
// disallowed: if BFS discovers an edge into a cube it has already
// reached by some other edge (not the edge it just came back across),
// the query is ambiguous. A target cube BFS never reaches at all is a
// distinct condition and gets its own message.
func FindJoinPath(r *cube.Registry, primary string, targets map[string]bool) ([]JoinStep, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	adj, err := buildAdjacency(r)
	if err != nil {
		return nil, err
	}

	type visit struct {
		cube   string
		step   JoinStep
		has    bool
		parent string
	}
	visited := map[string]visit{primary: {cube: primary}}
	queue := []string{primary}
	remaining := map[string]bool{}
	for t := range targets {
		if t != primary {
			remaining[t] = true
		}
	}
	if len(remaining) == 0 {
		return nil, nil
	}

	var discovered []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curParent := visited[cur].parent

		for _, e := range adj[cur] {
			if e.to == curParent {
				// adj is built bidirectionally (buildAdjacency adds the
				// reverse edge too), so BFS always sees an edge straight
				// back to the cube it came from; that's retracing the
				// path, not a second path, so it isn't ambiguous.
				continue
			}
			if _, seen := visited[e.to]; seen {
				return nil, errs.AmbiguousJoin(e.to)
			}
			step := JoinStep{FromCube: cur, ToCube: e.to, Relationship: e.relationship, On: e.on}
			visited[e.to] = visit{cube: e.to, step: step, has: true, parent: cur}
			discovered = append(discovered, e.to)
			delete(remaining, e.to)
			queue = append(queue, e.to)
		}
	}

	if len(remaining) > 0 {
		for t := range remaining {
			return nil, errs.New(errs.KindAmbiguousJoin, t, "no join path reaches this cube from the primary cube; supply an explicit cubes list")
		}
	}

	// Keep only the cubes on some target's path back to the primary,
	// in BFS discovery order (deterministic, since adj is built from
	// sorted cube and join names), excluding the primary itself.
	needed := map[string]bool{}
	for t := range targets {
		for c := t; c != primary && !needed[c]; c = visited[c].parent {
			needed[c] = true
		}
	}
	steps := make([]JoinStep, 0, len(needed))
	for _, name := range discovered {
		if needed[name] {
			steps = append(steps, visited[name].step)
		}
	}
	return steps, nil
}

// sortByDiscovery sorts names lexicographically in place with an
// insertion sort; despite its name it does not use discovery order,
// and visited is not read.
func sortByDiscovery(names []string, visited map[string]struct {
	cube   string
	step   JoinStep
	has    bool
	parent string
}) {
	// names arrives unordered from map iteration; since join distance
	// is not tracked numerically here, fall back to a stable
	// lexicographic order, matching the registry's own
	// CanonicalMapIter discipline used elsewhere in the planner.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}
