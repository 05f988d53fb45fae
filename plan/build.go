package plan

import (
	"sort"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/query"
)

// Build runs the full planning pipeline from spec.md §4.D: primary
// cube selection, join path discovery, and pre-aggregation CTE
// insertion, producing the Plan the SQL Builder consumes.
func Build(r *cube.Registry, q query.Query) (*Plan, error) {
	primary, err := SelectPrimary(r, q)
	if err != nil {
		return nil, err
	}

	referencedCubes := map[string]bool{primary: true}
	measuresByCube := map[string][]string{}
	for _, ref := range q.Measures {
		cubeName, _, err := cube.SplitField(ref)
		if err != nil {
			return nil, err
		}
		referencedCubes[cubeName] = true
		measuresByCube[cubeName] = append(measuresByCube[cubeName], ref)
	}
	for _, ref := range q.Dimensions {
		cubeName, _, err := cube.SplitField(ref)
		if err != nil {
			return nil, err
		}
		referencedCubes[cubeName] = true
	}
	for _, td := range q.TimeDimensions {
		cubeName, _, err := cube.SplitField(td.Dimension)
		if err != nil {
			return nil, err
		}
		referencedCubes[cubeName] = true
	}

	steps, err := FindJoinPath(r, primary, referencedCubes)
	if err != nil {
		return nil, err
	}

	measureRefsCovered := map[string]bool{}
	for i, step := range steps {
		dependentMeasures := measuresByCube[step.ToCube]
		if cte := planPreAgg(step, dependentMeasures); cte != nil {
			steps[i].AsCTE = cte
			for _, m := range dependentMeasures {
				measureRefsCovered[m] = true
			}
		}
	}

	selectRefs := make([]string, 0, len(q.Dimensions)+len(q.TimeDimensions))
	granularities := make([]string, 0, len(q.Dimensions)+len(q.TimeDimensions))
	for range q.Dimensions {
		granularities = append(granularities, "")
	}
	selectRefs = append(selectRefs, q.Dimensions...)
	for _, td := range q.TimeDimensions {
		selectRefs = append(selectRefs, td.Dimension)
		granularities = append(granularities, td.Granularity)
	}

	measureRefs := make([]string, 0, len(q.Measures))
	measureRefs = append(measureRefs, q.Measures...)

	groupBy := append([]string{}, q.Dimensions...)
	for _, td := range q.TimeDimensions {
		groupBy = append(groupBy, td.Dimension)
	}

	p := &Plan{
		Primary:       primary,
		Joins:         steps,
		GroupBy:       groupBy,
		Select:        selectRefs,
		Granularities: granularities,
		Measures:      measureRefs,
		OrderBy:       q.Order,
		Limit:         q.Limit,
		HasLimit:      q.Limit > 0,
		Offset:        q.Offset,
	}
	return p, nil
}

// CubesInPath returns every cube participating in the plan (primary
// plus every traversed join target), sorted, for building the
// per-cube security predicate list deterministically.
func (p *Plan) CubesInPath() []string {
	set := map[string]bool{p.Primary: true}
	for _, s := range p.Joins {
		set[s.ToCube] = true
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
