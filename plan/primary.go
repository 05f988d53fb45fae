package plan

import (
	"sort"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/query"
)

// cubeTally tallies, per referenced cube, how many regular
// dimensions and how many time dimensions it contributes, plus
// whether it contributes any measure or any filter-only reference.
type cubeTally struct {
	regularDimensions int
	timeDimensions    int
	hasMeasure        bool
	hasAnyReference   bool
}

// SelectPrimary implements spec.md §4.D's primary-cube-selection
// algorithm, resolved per the Open Question decision in SPEC_FULL.md
// §5: a cube that owns a referenced *time* dimension is preferred as
// primary over a cube that owns only a measure, even when the measure
// cube would otherwise win on dimension count — this is decision (a)
// from spec.md §9 ("prefer the time-owning cube as primary"), applied
// by folding time-dimension ownership into the same tie-break pass
// rather than treating it as a separate, later concern.
func SelectPrimary(r *cube.Registry, q query.Query) (string, error) {
	tallies := map[string]*cubeTally{}
	get := func(name string) *cubeTally {
		t, ok := tallies[name]
		if !ok {
			t = &cubeTally{}
			tallies[name] = t
		}
		return t
	}

	for _, ref := range q.Dimensions {
		cubeName, _, err := cube.SplitField(ref)
		if err != nil {
			return "", err
		}
		t := get(cubeName)
		t.regularDimensions++
		t.hasAnyReference = true
	}
	for _, td := range q.TimeDimensions {
		cubeName, _, err := cube.SplitField(td.Dimension)
		if err != nil {
			return "", err
		}
		t := get(cubeName)
		t.timeDimensions++
		t.hasAnyReference = true
	}
	for _, ref := range q.Measures {
		cubeName, _, err := cube.SplitField(ref)
		if err != nil {
			return "", err
		}
		t := get(cubeName)
		t.hasMeasure = true
		t.hasAnyReference = true
	}
	for _, f := range q.Filters {
		collectFilterCubes(f, get)
	}

	if len(tallies) == 0 {
		return "", errs.New(errs.KindInvalidFilter, "", "query references no cubes")
	}

	candidates := make([]string, 0, len(tallies))
	for name := range tallies {
		candidates = append(candidates, name)
	}

	if len(q.Cubes) > 0 {
		allowed := map[string]bool{}
		for _, c := range q.Cubes {
			allowed[c] = true
		}
		filtered := candidates[:0]
		for _, c := range candidates {
			if allowed[c] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
		if len(candidates) == 0 {
			candidates = append([]string{}, q.Cubes...)
		}
	}

	// Step 1: if at least one candidate contributes a dimension
	// (regular or time), drop candidates that contribute only measures.
	anyOwnsDimension := false
	for _, c := range candidates {
		t := tallies[c]
		if t != nil && (t.regularDimensions > 0 || t.timeDimensions > 0) {
			anyOwnsDimension = true
			break
		}
	}
	if anyOwnsDimension {
		filtered := make([]string, 0, len(candidates))
		for _, c := range candidates {
			t := tallies[c]
			if t != nil && (t.regularDimensions > 0 || t.timeDimensions > 0) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := tallies[candidates[i]], tallies[candidates[j]]
		if ti.regularDimensions != tj.regularDimensions {
			return ti.regularDimensions > tj.regularDimensions
		}
		iOwnsTime := ti.timeDimensions > 0
		jOwnsTime := tj.timeDimensions > 0
		if iOwnsTime != jOwnsTime {
			return iOwnsTime
		}
		return candidates[i] < candidates[j]
	})

	return candidates[0], nil
}

func collectFilterCubes(f query.FilterTree, get func(string) *cubeTally) {
	if f.IsLeaf() {
		if f.Member == "" {
			return
		}
		if cubeName, _, err := cube.SplitField(f.Member); err == nil {
			get(cubeName).hasAnyReference = true
		}
		return
	}
	for _, child := range f.And {
		collectFilterCubes(child, get)
	}
	for _, child := range f.Or {
		collectFilterCubes(child, get)
	}
}
