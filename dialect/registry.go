package dialect

import (
	"fmt"

	"github.com/k0kubun/semlayer/dialect/duckdb"
	"github.com/k0kubun/semlayer/dialect/mysql"
	"github.com/k0kubun/semlayer/dialect/postgres"
	"github.com/k0kubun/semlayer/dialect/singlestore"
	"github.com/k0kubun/semlayer/dialect/sqlite"
)

// ByName resolves one of the five supported dialect names to its
// Adapter implementation. Used by cmd/semlayerd to turn a --dialect
// flag (or a driver-name auto-detection) into the Adapter the rest of
// the core depends on.
func ByName(name string) (Adapter, error) {
	switch name {
	case "postgres", "postgresql":
		return postgres.New(), nil
	case "mysql":
		return mysql.New(), nil
	case "singlestore":
		return singlestore.New(), nil
	case "sqlite", "sqlite3":
		return sqlite.New(), nil
	case "duckdb":
		return duckdb.New(), nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}
