package sqlbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect/postgres"
	"github.com/k0kubun/semlayer/query"
)

func testRegistry(t *testing.T) *cube.Registry {
	t.Helper()
	r := cube.New()

	err := r.Register(cube.Cube{
		Name: "Orders",
		SQLSource: func(qctx cube.QueryContext) (cube.BaseQuery, error) {
			return cube.BaseQuery{
				Table: "orders",
				Where: "orders.organisation_id = '" + qctx.Security.OrganisationID + "'",
			}, nil
		},
		Dimensions: map[string]cube.Dimension{
			"id":        {Name: "id", Type: cube.DimNumber, SQL: "orders.id", PrimaryKey: true},
			"status":    {Name: "status", Type: cube.DimString, SQL: "orders.status"},
			"createdAt": {Name: "createdAt", Type: cube.DimTime, SQL: "orders.created_at"},
		},
		Measures: map[string]cube.Measure{
			"count":      {Name: "count", Type: cube.MeasureCount},
			"total":      {Name: "total", Type: cube.MeasureSum, SQL: "orders.amount"},
			"avgPerUnit": {Name: "avgPerUnit", Type: cube.MeasureCalculated, SQL: "{Orders.total} / NULLIF({Orders.count}, 0)"},
		},
		Joins: map[string]cube.JoinSpec{
			"LineItems": {
				TargetCube:   "LineItems",
				Relationship: cube.HasMany,
				On:           []cube.Join{{SourceColumn: "orders.id", TargetColumn: "line_items.order_id"}},
			},
		},
	})
	require.NoError(t, err)

	err = r.Register(cube.Cube{
		Name: "LineItems",
		SQLSource: func(qctx cube.QueryContext) (cube.BaseQuery, error) {
			return cube.BaseQuery{Table: "line_items"}, nil
		},
		Dimensions: map[string]cube.Dimension{
			"orderId": {Name: "orderId", Type: cube.DimNumber, SQL: "line_items.order_id"},
			"sku":     {Name: "sku", Type: cube.DimString, SQL: "line_items.sku"},
		},
		Measures: map[string]cube.Measure{
			"quantity": {Name: "quantity", Type: cube.MeasureSum, SQL: "line_items.quantity"},
		},
	})
	require.NoError(t, err)

	return r
}

func testQctx() cube.QueryContext {
	return cube.QueryContext{Security: cube.SecurityContext{OrganisationID: "acme"}}
}

func TestBuildSimpleMeasureQuery(t *testing.T) {
	r := testRegistry(t)
	b := New(r, postgres.New())

	built, err := b.Build(testQctx(), query.Query{
		Measures:   []string{"Orders.total"},
		Dimensions: []string{"Orders.status"},
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, `SELECT orders.status AS "Orders.status", SUM(orders.amount) AS "Orders.total"`)
	assert.Contains(t, built.SQL, "FROM orders")
	assert.Contains(t, built.SQL, "WHERE (orders.organisation_id = ")
	assert.Contains(t, built.SQL, "GROUP BY orders.status")
	assert.Len(t, built.Columns, 2)
}

func TestBuildAppliesTimeDimensionGranularity(t *testing.T) {
	r := testRegistry(t)
	b := New(r, postgres.New())

	built, err := b.Build(testQctx(), query.Query{
		Measures: []string{"Orders.count"},
		TimeDimensions: []query.TimeDimension{
			{Dimension: "Orders.createdAt", Granularity: "month"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, `DATE_TRUNC('month', orders.created_at) AS "Orders.createdAt.month"`)
	assert.Equal(t, "month", built.Columns[0].Granularity)
}

func TestBuildHasManyMeasureGetsPreAggregatedCTE(t *testing.T) {
	r := testRegistry(t)
	b := New(r, postgres.New())

	built, err := b.Build(testQctx(), query.Query{
		Measures:   []string{"LineItems.quantity"},
		Dimensions: []string{"Orders.status"},
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, "WITH ")
	assert.Contains(t, built.SQL, "cte_LineItems")
	assert.Contains(t, built.SQL, "LEFT JOIN")
	assert.NotContains(t, built.SQL, "SUM(line_items.quantity) AS \"LineItems.quantity\"")
}

func TestBuildCalculatedMeasureExpandsTemplate(t *testing.T) {
	r := testRegistry(t)
	b := New(r, postgres.New())

	built, err := b.Build(testQctx(), query.Query{
		Measures: []string{"Orders.avgPerUnit"},
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, "SUM(orders.amount)")
	assert.Contains(t, built.SQL, "NULLIF(COUNT(*), 0)")
}

func TestBuildRejectsDimensionRefInMeasuresList(t *testing.T) {
	r := testRegistry(t)
	b := New(r, postgres.New())

	_, err := b.Build(testQctx(), query.Query{
		Measures: []string{"Orders.status"},
	})
	require.Error(t, err)
}

func TestBuildOrdersByMeasure(t *testing.T) {
	r := testRegistry(t)
	b := New(r, postgres.New())

	built, err := b.Build(testQctx(), query.Query{
		Measures:   []string{"Orders.total"},
		Dimensions: []string{"Orders.status"},
		Order:      []query.Order{{Field: "Orders.total", Direction: "desc"}},
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, "ORDER BY SUM(orders.amount) DESC")
}
