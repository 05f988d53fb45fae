// Package postgres implements the dialect.Adapter contract for
// PostgreSQL. Its DSN assembly follows the teacher's
// database/postgres/database.go buildDSN shape; quoting follows
// PostgreSQL's double-quote identifier rule documented in the
// teacher's schema/identifier.go NormalizeIdentifierName.
package postgres

import (
	"fmt"
	"strings"

	"github.com/k0kubun/semlayer/dialect"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "postgres" }

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

func (a *Adapter) Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func (a *Adapter) Placeholder(position int) string {
	return fmt.Sprintf("$%d", position)
}

func (a *Adapter) TruncateTime(g dialect.Granularity, expr string) string {
	return fmt.Sprintf("DATE_TRUNC('%s', %s)", string(g), expr)
}

func (a *Adapter) StringMatch(expr string, op dialect.StringOp, value string) (string, error) {
	switch op {
	case dialect.Contains:
		return fmt.Sprintf("%s ILIKE '%%' || %s || '%%'", expr, value), nil
	case dialect.NotContains:
		return fmt.Sprintf("%s NOT ILIKE '%%' || %s || '%%'", expr, value), nil
	case dialect.StartsWith:
		return fmt.Sprintf("%s ILIKE %s || '%%'", expr, value), nil
	case dialect.EndsWith:
		return fmt.Sprintf("%s ILIKE '%%' || %s", expr, value), nil
	case dialect.Like:
		return fmt.Sprintf("%s LIKE %s", expr, value), nil
	case dialect.NotLike:
		return fmt.Sprintf("%s NOT LIKE %s", expr, value), nil
	case dialect.ILike:
		return fmt.Sprintf("%s ILIKE %s", expr, value), nil
	case dialect.Regex:
		return fmt.Sprintf("%s ~* %s", expr, value), nil
	case dialect.NotRegex:
		return fmt.Sprintf("%s !~* %s", expr, value), nil
	}
	return "", dialect.UnsupportedFeature(a.Name(), "stringMatch:"+string(op))
}

func (a *Adapter) Cast(expr string, t dialect.CastType) string {
	switch t {
	case dialect.Timestamp:
		return fmt.Sprintf("CAST(%s AS TIMESTAMP)", expr)
	case dialect.Decimal:
		return fmt.Sprintf("CAST(%s AS DECIMAL)", expr)
	case dialect.Integer:
		return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
	}
	return expr
}

func (a *Adapter) Avg(expr string) string {
	return fmt.Sprintf("COALESCE(AVG(%s), 0)", expr)
}

func (a *Adapter) CaseWhen(cases []dialect.CaseBranch, elseExpr string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, c := range cases {
		fmt.Fprintf(&b, " WHEN %s THEN %s", c.Cond, c.Result)
	}
	if elseExpr != "" {
		fmt.Fprintf(&b, " ELSE %s", elseExpr)
	}
	b.WriteString(" END")
	return b.String()
}

func (a *Adapter) BooleanLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (a *Adapter) CoerceFilterValue(v any) any {
	return v
}

func (a *Adapter) IntervalFromISO(duration string) (string, error) {
	d, err := dialect.ParseISODuration(duration)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"INTERVAL '%d years %d months %d days %d hours %d minutes %d seconds'",
		d.Years, d.Months, d.Days, d.Hours, d.Minutes, d.Seconds,
	), nil
}

func (a *Adapter) TimeDifferenceSeconds(end, start string) string {
	return fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s))", end, start)
}

func (a *Adapter) DateAddInterval(ts, duration string) (string, error) {
	interval, err := a.IntervalFromISO(duration)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s + %s)", ts, interval), nil
}

func (a *Adapter) ConditionalAggregation(fn dialect.AggFn, expr string, condition string) string {
	if fn == dialect.AggCount && expr == "" {
		return fmt.Sprintf("COUNT(*) FILTER (WHERE %s)", condition)
	}
	return fmt.Sprintf("%s(%s) FILTER (WHERE %s)", strings.ToUpper(string(fn)), expr, condition)
}

func (a *Adapter) Stddev(expr string) (string, bool) {
	return fmt.Sprintf("STDDEV(%s)", expr), true
}

func (a *Adapter) Variance(expr string) (string, bool) {
	return fmt.Sprintf("VARIANCE(%s)", expr), true
}

func (a *Adapter) Percentile(expr string, p float64) (string, bool) {
	return fmt.Sprintf("PERCENTILE_CONT(%g) WITHIN GROUP (ORDER BY %s)", p, expr), true
}

func (a *Adapter) Window(kind dialect.WindowKind, expr string, partitionBy, orderBy []string, frame *dialect.Frame) (string, error) {
	fn, err := windowFunctionSQL(kind, expr)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(fn)
	b.WriteString(" OVER (")
	if len(partitionBy) > 0 {
		fmt.Fprintf(&b, "PARTITION BY %s", strings.Join(partitionBy, ", "))
	}
	if len(orderBy) > 0 {
		if len(partitionBy) > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "ORDER BY %s", strings.Join(orderBy, ", "))
	}
	if frame != nil {
		b.WriteString(" ")
		b.WriteString(frameClause(*frame))
	}
	b.WriteString(")")
	return b.String(), nil
}

func windowFunctionSQL(kind dialect.WindowKind, expr string) (string, error) {
	switch kind {
	case dialect.Lag:
		return fmt.Sprintf("LAG(%s)", expr), nil
	case dialect.Lead:
		return fmt.Sprintf("LEAD(%s)", expr), nil
	case dialect.Rank:
		return "RANK()", nil
	case dialect.DenseRank:
		return "DENSE_RANK()", nil
	case dialect.RowNumber:
		return "ROW_NUMBER()", nil
	case dialect.Ntile:
		return fmt.Sprintf("NTILE(%s)", expr), nil
	case dialect.FirstValue:
		return fmt.Sprintf("FIRST_VALUE(%s)", expr), nil
	case dialect.LastValue:
		return fmt.Sprintf("LAST_VALUE(%s)", expr), nil
	case dialect.MovingAvg:
		return fmt.Sprintf("AVG(%s)", expr), nil
	case dialect.MovingSum:
		return fmt.Sprintf("SUM(%s)", expr), nil
	}
	return "", fmt.Errorf("unknown window kind %q", kind)
}

func frameClause(f dialect.Frame) string {
	kind := strings.ToUpper(f.Kind)
	if kind == "" {
		kind = "ROWS"
	}
	boundary := func(n int) string {
		switch {
		case n < 0:
			return "UNBOUNDED PRECEDING"
		case n == 0:
			return "CURRENT ROW"
		default:
			return fmt.Sprintf("%d PRECEDING", n)
		}
	}
	following := func(n int) string {
		switch {
		case n < 0:
			return "UNBOUNDED FOLLOWING"
		case n == 0:
			return "CURRENT ROW"
		default:
			return fmt.Sprintf("%d FOLLOWING", n)
		}
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", kind, boundary(f.Preceding), following(f.Following))
}

func (a *Adapter) PreprocessCalculatedTemplate(template string) string {
	return template
}

func (a *Adapter) TimestampStorageIsInteger() bool { return false }

func (a *Adapter) ConvertTimeDimensionResult(v any) (any, error) {
	return v, nil
}

// BuildDSN follows the teacher's postgresBuildDSN (adapter/postgres/postgres.go):
// user:password@host/db with an optional sslmode query parameter.
func BuildDSN(user, password, host string, port int, dbName, sslMode string) string {
	hostport := host
	if port != 0 {
		hostport = fmt.Sprintf("%s:%d", host, port)
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s", user, password, hostport, dbName)
	if sslMode != "" {
		dsn += "?sslmode=" + sslMode
	}
	return dsn
}
