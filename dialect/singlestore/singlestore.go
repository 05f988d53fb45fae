// Package singlestore implements the dialect.Adapter contract for
// SingleStore. SingleStore speaks the MySQL wire protocol, so this
// adapter embeds the mysql adapter's SQL-fragment behavior (it is
// MySQL-syntax compatible for everything this package touches) and
// overrides only the capabilities SingleStore adds on top: native
// percentile aggregates, including inside subqueries (LATERAL joins are
// already reported by the mysql adapter). DSN assembly follows the
// url.URL-based shape of the teacher's mssqlBuildDSN
// (database/mssql/database.go), which is the pack's only
// connection-string builder aimed at a non-MySQL-specific driver
// config — SingleStore is registered through the MySQL driver, so a
// hand-assembled DSN is the right fit rather than driver.Config.
package singlestore

import (
	"fmt"
	"net/url"

	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/dialect/mysql"
)

type Adapter struct {
	mysql.Adapter
}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "singlestore" }

func (a *Adapter) Capabilities() dialect.Capabilities {
	return dialect.Capabilities{
		SupportsStddev:              true,
		SupportsVariance:             true,
		SupportsPercentile:           true,
		SupportsPercentileSubqueries: true,
		SupportsWindowFunctions:      true,
		SupportsFrameClause:          true,
		SupportsLateralJoins:         true,
		TimestampStorageIsInteger:    false,
	}
}

func (a *Adapter) Percentile(expr string, p float64) (string, bool) {
	return fmt.Sprintf("APPROX_PERCENTILE(%s, %g)", expr, p), true
}

// BuildDSN assembles a SingleStore connection string over the MySQL
// wire protocol, following the url.URL-assembly pattern of the
// teacher's mssqlBuildDSN.
func BuildDSN(user, password, host string, port int, dbName string) string {
	u := &url.URL{
		Scheme: "mysql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + dbName,
	}
	return u.String()
}
