package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/errs"
)

func registerLeaf(t *testing.T, r *cube.Registry, name string, joins map[string]cube.JoinSpec) {
	t.Helper()
	require.NoError(t, r.Register(cube.Cube{
		Name:       name,
		SQLSource:  func(cube.QueryContext) (cube.BaseQuery, error) { return cube.BaseQuery{Table: name}, nil },
		Dimensions: map[string]cube.Dimension{"id": {Name: "id", Type: cube.DimString, SQL: name + ".id"}},
		Measures:   map[string]cube.Measure{"count": {Name: "count", Type: cube.MeasureCount}},
		Joins:      joins,
	}))
}

func TestFindJoinPathLinearChain(t *testing.T) {
	r := cube.New()
	registerLeaf(t, r, "A", map[string]cube.JoinSpec{
		"B": {TargetCube: "B", Relationship: cube.BelongsTo, On: []cube.Join{{SourceColumn: "b_id", TargetColumn: "id"}}},
	})
	registerLeaf(t, r, "B", map[string]cube.JoinSpec{
		"C": {TargetCube: "C", Relationship: cube.BelongsTo, On: []cube.Join{{SourceColumn: "c_id", TargetColumn: "id"}}},
	})
	registerLeaf(t, r, "C", nil)

	steps, err := FindJoinPath(r, "A", map[string]bool{"A": true, "B": true, "C": true})
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestFindJoinPathDetectsAmbiguousDiamond(t *testing.T) {
	// A -> B -> D and A -> C -> D: two distinct paths reach D.
	r := cube.New()
	registerLeaf(t, r, "A", map[string]cube.JoinSpec{
		"B": {TargetCube: "B", Relationship: cube.BelongsTo, On: []cube.Join{{SourceColumn: "b_id", TargetColumn: "id"}}},
		"C": {TargetCube: "C", Relationship: cube.BelongsTo, On: []cube.Join{{SourceColumn: "c_id", TargetColumn: "id"}}},
	})
	registerLeaf(t, r, "B", map[string]cube.JoinSpec{
		"D": {TargetCube: "D", Relationship: cube.BelongsTo, On: []cube.Join{{SourceColumn: "d_id", TargetColumn: "id"}}},
	})
	registerLeaf(t, r, "C", map[string]cube.JoinSpec{
		"D": {TargetCube: "D", Relationship: cube.BelongsTo, On: []cube.Join{{SourceColumn: "d_id", TargetColumn: "id"}}},
	})
	registerLeaf(t, r, "D", nil)

	_, err := FindJoinPath(r, "A", map[string]bool{"A": true, "D": true})
	require.Error(t, err)
	var coreErr *errs.Error
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, errs.KindAmbiguousJoin, coreErr.Kind)
	assert.Equal(t, "D", coreErr.Ident)
}

func TestFindJoinPathReportsUnreachableTargetDistinctly(t *testing.T) {
	r := cube.New()
	registerLeaf(t, r, "A", nil)
	registerLeaf(t, r, "Z", nil) // no join declared anywhere near A

	_, err := FindJoinPath(r, "A", map[string]bool{"A": true, "Z": true})
	require.Error(t, err)
	var coreErr *errs.Error
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, errs.KindAmbiguousJoin, coreErr.Kind)
	assert.Contains(t, coreErr.Message, "no join path reaches this cube")
}
