package engine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect/sqlite"
	"github.com/k0kubun/semlayer/executor"
	"github.com/k0kubun/semlayer/query"
)

func ordersRegistry(t *testing.T) *cube.Registry {
	t.Helper()
	r := cube.New()
	err := r.Register(cube.Cube{
		Name: "Orders",
		SQLSource: func(qc cube.QueryContext) (cube.BaseQuery, error) {
			return cube.BaseQuery{Table: "orders", Where: "orders.org_id = '" + qc.Security.OrganisationID + "'"}, nil
		},
		Dimensions: map[string]cube.Dimension{
			"status": {Name: "status", Type: cube.DimString, SQL: "orders.status"},
		},
		Measures: map[string]cube.Measure{
			"count": {Name: "count", Title: "Order Count", Type: cube.MeasureCount},
		},
	})
	require.NoError(t, err)
	return r
}

func openEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("CREATE TABLE orders (id INTEGER, org_id TEXT, status TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO orders (id, org_id, status) VALUES (1,'acme','shipped'), (2,'acme','pending'), (3,'other','shipped')")
	require.NoError(t, err)

	return New(ordersRegistry(t), sqlite.New(), executor.New(db))
}

func acmeQueryContext() cube.QueryContext {
	return cube.QueryContext{Security: cube.SecurityContext{OrganisationID: "acme"}}
}

func TestExecuteRunsAndAnnotatesAStandardQuery(t *testing.T) {
	e := openEngine(t)

	env, err := e.Execute(context.Background(), acmeQueryContext(), query.Query{
		Measures:   []string{"Orders.count"},
		Dimensions: []string{"Orders.status"},
		Order:      []query.Order{{Field: "Orders.status", Direction: "asc"}},
	})
	require.NoError(t, err)

	require.Len(t, env.Data, 2)
	assert.Equal(t, "pending", env.Data[0]["Orders.status"])
	assert.Equal(t, "shipped", env.Data[1]["Orders.status"])
	assert.Equal(t, "number", env.Annotation.Measures["Orders.count"].Type)
	assert.Nil(t, env.Total)
}

func TestCompileSQLReturnsUnexecutedStatement(t *testing.T) {
	e := openEngine(t)

	compiled, err := e.CompileSQL(acmeQueryContext(), query.Query{
		Measures: []string{"Orders.count"},
	})
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "SELECT")
	assert.Contains(t, compiled.SQL, "orders")
}

func TestExecuteRejectsUnknownMember(t *testing.T) {
	e := openEngine(t)

	_, err := e.Execute(context.Background(), acmeQueryContext(), query.Query{
		Measures: []string{"Orders.bogus"},
	})
	require.Error(t, err)
}

func TestMetaListsRegisteredCubesAndMembers(t *testing.T) {
	e := openEngine(t)

	meta := e.Meta()
	require.Len(t, meta.Cubes, 1)
	assert.Equal(t, "Orders", meta.Cubes[0].Name)
	assert.Equal(t, "Order Count", meta.Cubes[0].Measures[0].Title)
}
