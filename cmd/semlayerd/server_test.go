package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect/sqlite"
	"github.com/k0kubun/semlayer/engine"
	"github.com/k0kubun/semlayer/executor"
)

const testJWTSecret = "test-secret"

func testRegistry(t *testing.T) *cube.Registry {
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

func testServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("CREATE TABLE orders (id INTEGER, org_id TEXT, status TEXT)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO orders (id, org_id, status) VALUES (1,'acme','shipped'), (2,'acme','pending')")
	require.NoError(t, err)

	eng := engine.New(testRegistry(t), sqlite.New(), executor.New(db))
	srv := &server{engine: eng}
	return newMux(srv, testJWTSecret)
}

func signToken(t *testing.T, orgID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		OrganisationID: orgID,
		UserID:         "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

func TestHandleMetaRequiresNoAuth(t *testing.T) {
	mux := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/meta", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var meta engine.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	require.Len(t, meta.Cubes, 1)
	assert.Equal(t, "Orders", meta.Cubes[0].Name)
}

func TestHandleLoadRejectsMissingToken(t *testing.T) {
	mux := testServer(t)
	body := bytes.NewBufferString(`{"query":{"measures":["Orders.count"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/load", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLoadExecutesStandardQuery(t *testing.T) {
	mux := testServer(t)
	body := bytes.NewBufferString(`{"query":{"measures":["Orders.count"],"dimensions":["Orders.status"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/load", body)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "acme"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data := env["data"].([]any)
	assert.Len(t, data, 2)
}

func TestHandleSQLReturnsUnexecutedStatement(t *testing.T) {
	mux := testServer(t)
	body := bytes.NewBufferString(`{"query":{"measures":["Orders.count"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/sql", body)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "acme"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var compiled engine.Compiled
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &compiled))
	assert.Contains(t, compiled.SQL, "SELECT")
}

func TestHandleLoadRejectsTokenWithoutOrganisation(t *testing.T) {
	mux := testServer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"query":{"measures":["Orders.count"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/load", body)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
