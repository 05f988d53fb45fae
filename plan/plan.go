// Package plan implements the Query Planner from spec.md §4.D: primary
// cube selection, join path discovery, and pre-aggregation CTE
// planning for hasMany relationships.
package plan

import (
	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/query"
)

// JoinStep is one traversed join in the plan's path, in traversal
// order from the primary cube outward.
type JoinStep struct {
	FromCube     string
	ToCube       string
	Relationship cube.Relationship
	On           []cube.Join
	// AsCTE is set when this join's dependent side must be
	// pre-aggregated, per spec.md §4.D.
	AsCTE *PreAggCTE
}

// PreAggCTE is a single pre-aggregation CTE: the dependent cube
// aggregated by its foreign-key columns so the outer join cannot fan
// out the primary side, per spec.md §4.D / GLOSSARY.
type PreAggCTE struct {
	Name         string // CTE alias
	Cube         string // dependent cube name
	GroupByCols  []string
	Measures     []string // "Cube.measure" refs materialized by this CTE
}

// Plan is the planner's output, consumed by the SQL Builder, per
// spec.md §4.D.
type Plan struct {
	Primary  string
	Joins    []JoinStep
	GroupBy  []string // "Cube.member" refs
	Select   []string // "Cube.member" refs, dimensions and time dimensions, in order
	// Granularities is aligned index-for-index with Select: "" for a
	// plain dimension, the requested granularity for a time dimension.
	Granularities []string
	Measures      []string // every requested "Cube.measure" ref, including those a CTE materializes
	OrderBy       []query.Order
	Limit         int
	HasLimit      bool
	Offset        int

	FilterPredicates []string // compiled, order-preserving
}
