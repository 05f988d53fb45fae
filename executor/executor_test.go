package executor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("CREATE TABLE widgets (id INTEGER, name TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO widgets (id, name) VALUES (1, 'a'), (2, 'b')")
	require.NoError(t, err)
	return db
}

func TestQueryDecodesColumnsAndRows(t *testing.T) {
	db := openMemDB(t)
	e := New(db)

	result, err := e.Query(context.Background(), "SELECT id, name FROM widgets WHERE id > ? ORDER BY id", []any{0})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, int64(1), result.Rows[0][0])
	assert.Equal(t, "a", result.Rows[0][1])
}

func TestQueryWrapsDriverErrorAsExecutionFailed(t *testing.T) {
	db := openMemDB(t)
	e := New(db)

	_, err := e.Query(context.Background(), "SELECT * FROM nonexistent_table", nil)
	require.Error(t, err)
}

func TestQueryPropagatesCancellation(t *testing.T) {
	db := openMemDB(t)
	e := New(db)
	e.CancellationGrace = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Query(ctx, "SELECT id, name FROM widgets", nil)
	require.Error(t, err)
}

func TestPingSucceedsOnOpenPool(t *testing.T) {
	db := openMemDB(t)
	e := New(db)
	require.NoError(t, e.Ping(context.Background()))
}
