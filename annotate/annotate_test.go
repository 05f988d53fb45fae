package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect/postgres"
	"github.com/k0kubun/semlayer/dialect/sqlite"
	"github.com/k0kubun/semlayer/sqlbuilder"
)

func annotateTestRegistry(t *testing.T) *cube.Registry {
	t.Helper()
	r := cube.New()
	err := r.Register(cube.Cube{
		Name:      "Orders",
		SQLSource: func(cube.QueryContext) (cube.BaseQuery, error) { return cube.BaseQuery{Table: "orders"}, nil },
		Dimensions: map[string]cube.Dimension{
			"status":    {Name: "status", Type: cube.DimString, SQL: "orders.status"},
			"createdAt": {Name: "createdAt", Type: cube.DimTime, SQL: "orders.created_at"},
		},
		Measures: map[string]cube.Measure{
			"count":      {Name: "count", Type: cube.MeasureCount},
			"total":      {Name: "total", Type: cube.MeasureSum, SQL: "orders.amount"},
			"avgPerUnit": {Name: "avgPerUnit", Type: cube.MeasureCalculated, SQL: "{Orders.total} / NULLIF({Orders.count}, 0)"},
		},
	})
	require.NoError(t, err)
	return r
}

func TestAnnotateBuildsEnvelopeWithMetadata(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, postgres.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.status", Ref: "Orders.status", Kind: cube.KindDimension},
		{Alias: "Orders.total", Ref: "Orders.total", Kind: cube.KindMeasure},
	}
	rows := [][]any{{"shipped", 42}}

	env, err := a.Annotate(cols, rows, nil)
	require.NoError(t, err)

	require.Len(t, env.Data, 1)
	assert.Equal(t, "shipped", env.Data[0]["Orders.status"])
	assert.Equal(t, 42, env.Data[0]["Orders.total"])
	assert.Equal(t, "string", env.Annotation.Dimensions["Orders.status"].Type)
	assert.Equal(t, "number", env.Annotation.Measures["Orders.total"].Type)
	assert.Nil(t, env.Total)
}

func TestAnnotateRewritesNullCountToZero(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, postgres.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.count", Ref: "Orders.count", Kind: cube.KindMeasure},
	}
	rows := [][]any{{nil}}

	env, err := a.Annotate(cols, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, env.Data[0]["Orders.count"])
}

func TestAnnotateLeavesCalculatedMeasureNullAsNull(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, postgres.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.avgPerUnit", Ref: "Orders.avgPerUnit", Kind: cube.KindMeasure},
	}
	rows := [][]any{{nil}}

	env, err := a.Annotate(cols, rows, nil)
	require.NoError(t, err)
	assert.Nil(t, env.Data[0]["Orders.avgPerUnit"])
}

func TestAnnotateTimeDimensionCarriesGranularity(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, postgres.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.createdAt.month", Ref: "Orders.createdAt", Kind: cube.KindDimension, Granularity: "month"},
	}
	rows := [][]any{{"2026-01-01T00:00:00Z"}}

	env, err := a.Annotate(cols, rows, nil)
	require.NoError(t, err)
	meta, ok := env.Annotation.TimeDimensions["Orders.createdAt.month"]
	require.True(t, ok)
	assert.Equal(t, "time", meta.Type)
	assert.Equal(t, "month", meta.Granularity)
}

func TestAnnotateConvertsSQLiteTimeFormat(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, sqlite.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.createdAt", Ref: "Orders.createdAt", Kind: cube.KindDimension},
	}
	rows := [][]any{{"2026-01-01 00:00:00"}}

	env, err := a.Annotate(cols, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", env.Data[0]["Orders.createdAt"])
}

func TestAnnotateRejectsColumnCountMismatch(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, postgres.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.status", Ref: "Orders.status", Kind: cube.KindDimension},
	}
	rows := [][]any{{"shipped", "extra"}}

	_, err := a.Annotate(cols, rows, nil)
	require.Error(t, err)
}

func TestAnnotatePropagatesTotal(t *testing.T) {
	r := annotateTestRegistry(t)
	a := New(r, postgres.New())

	cols := []sqlbuilder.OutputColumn{
		{Alias: "Orders.status", Ref: "Orders.status", Kind: cube.KindDimension},
	}
	total := 7
	env, err := a.Annotate(cols, [][]any{{"shipped"}}, &total)
	require.NoError(t, err)
	require.NotNil(t, env.Total)
	assert.Equal(t, 7, *env.Total)
}
