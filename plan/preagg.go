package plan

import "github.com/k0kubun/semlayer/cube"

// planPreAgg decides, for one traversed join, whether the dependent
// side needs a pre-aggregation CTE, per spec.md §4.D:
//   - hasMany joins with at least one measure from the dependent cube
//     referenced in the query get a CTE grouped by the join's foreign
//     key columns, materializing every referenced measure.
//   - hasMany joins with only dimensions referenced from the dependent
//     cube skip pre-aggregation; DISTINCT semantics in the outer
//     GROUP BY are relied on instead.
//   - belongsToMany is not desugared through its join table:
//     buildAdjacency adds it as one direct edge to the target cube
//     without reading ThroughCube, and it gets no CTE here.
func planPreAgg(step JoinStep, dependentMeasures []string) *PreAggCTE {
	if step.Relationship != cube.HasMany {
		return nil
	}
	if len(dependentMeasures) == 0 {
		return nil
	}
	groupBy := make([]string, 0, len(step.On))
	for _, on := range step.On {
		groupBy = append(groupBy, on.TargetColumn)
	}
	return &PreAggCTE{
		Name:        "cte_" + step.ToCube,
		Cube:        step.ToCube,
		GroupByCols: groupBy,
		Measures:    dependentMeasures,
	}
}
