// Package sqlite implements the dialect.Adapter contract for SQLite.
// SQLite driver registration follows the teacher's
// database/sqlite3/database.go (modernc.org/sqlite, a pure-Go driver,
// avoiding a cgo dependency exactly as the teacher does).
package sqlite

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/k0kubun/semlayer/dialect"
)

// Adapter assumes unix-epoch-seconds storage for time dimensions, per
// spec.md §4.A ("SQLite: datetime(…, 'unixepoch', 'start of …'); assumes
// seconds-based Unix storage").
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "sqlite" }

func (a *Adapter) Capabilities() dialect.Capabilities {
	return dialect.Capabilities{
		SupportsStddev:              false,
		SupportsVariance:             false,
		SupportsPercentile:           false,
		SupportsPercentileSubqueries: false,
		SupportsWindowFunctions:      true,
		SupportsFrameClause:          true,
		SupportsLateralJoins:         false, // Flow always falls back to the window plan, per spec.md §4.F
		TimestampStorageIsInteger:    true,
	}
}

func (a *Adapter) Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func (a *Adapter) Placeholder(position int) string { return "?" }

func (a *Adapter) TruncateTime(g dialect.Granularity, expr string) string {
	unixEpoch := fmt.Sprintf("%s, 'unixepoch'", expr)
	switch g {
	case dialect.Second:
		return fmt.Sprintf("datetime(%s)", unixEpoch)
	case dialect.Minute:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT%%H:%%M:00Z', %s)", unixEpoch)
	case dialect.Hour:
		return fmt.Sprintf("datetime(%s, 'start of hour')", unixEpoch)
	case dialect.Day:
		return fmt.Sprintf("datetime(%s, 'start of day')", unixEpoch)
	case dialect.Week:
		return fmt.Sprintf("datetime(%s, 'start of day', 'weekday 1', '-7 days')", unixEpoch)
	case dialect.Month:
		return fmt.Sprintf("datetime(%s, 'start of month')", unixEpoch)
	case dialect.Quarter:
		return fmt.Sprintf(
			"datetime(%s, 'start of month', printf('-%%d months', (CAST(strftime('%%m', %s) AS INTEGER) - 1) %% 3))",
			unixEpoch, unixEpoch,
		)
	case dialect.Year:
		return fmt.Sprintf("datetime(%s, 'start of year')", unixEpoch)
	}
	return expr
}

func (a *Adapter) StringMatch(expr string, op dialect.StringOp, value string) (string, error) {
	lowerExpr := fmt.Sprintf("LOWER(%s)", expr)
	lowerVal := fmt.Sprintf("LOWER(%s)", value)
	switch op {
	case dialect.Contains:
		return fmt.Sprintf("%s LIKE '%%' || %s || '%%'", lowerExpr, lowerVal), nil
	case dialect.NotContains:
		return fmt.Sprintf("%s NOT LIKE '%%' || %s || '%%'", lowerExpr, lowerVal), nil
	case dialect.StartsWith:
		return fmt.Sprintf("%s LIKE %s || '%%'", lowerExpr, lowerVal), nil
	case dialect.EndsWith:
		return fmt.Sprintf("%s LIKE '%%' || %s", lowerExpr, lowerVal), nil
	case dialect.Like, dialect.ILike:
		return fmt.Sprintf("%s LIKE %s", lowerExpr, lowerVal), nil
	case dialect.NotLike:
		return fmt.Sprintf("%s NOT LIKE %s", lowerExpr, lowerVal), nil
	case dialect.Regex:
		// SQLite has no REGEXP by default; degrade to GLOB per spec.md §4.A.
		return fmt.Sprintf("%s GLOB %s", expr, value), nil
	case dialect.NotRegex:
		return fmt.Sprintf("%s NOT GLOB %s", expr, value), nil
	}
	return "", dialect.UnsupportedFeature(a.Name(), "stringMatch:"+string(op))
}

func (a *Adapter) Cast(expr string, t dialect.CastType) string {
	switch t {
	case dialect.Timestamp:
		// Storage is millisecond integers; divide down to seconds first.
		return fmt.Sprintf("datetime(CAST(%s AS INTEGER) / 1000, 'unixepoch')", expr)
	case dialect.Decimal:
		return fmt.Sprintf("CAST(%s AS REAL)", expr)
	case dialect.Integer:
		return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
	}
	return expr
}

func (a *Adapter) Avg(expr string) string {
	return fmt.Sprintf("IFNULL(AVG(%s), 0)", expr)
}

// CaseWhen distinguishes embedded SQL expressions from literal values in
// the `result` position, per spec.md §4.A, so a literal string value is
// never mis-parameterized as a bareword SQL identifier.
func (a *Adapter) CaseWhen(cases []dialect.CaseBranch, elseExpr string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, c := range cases {
		fmt.Fprintf(&b, " WHEN %s THEN %s", c.Cond, sqliteCaseResult(c.Result))
	}
	if elseExpr != "" {
		fmt.Fprintf(&b, " ELSE %s", sqliteCaseResult(elseExpr))
	}
	b.WriteString(" END")
	return b.String()
}

// sqliteCaseResult passes already-SQL-shaped fragments (function calls,
// column references, numeric literals, quoted strings, parameter
// placeholders) through untouched, but quotes anything that would
// otherwise be interpreted as a bareword SQLite identifier.
func sqliteCaseResult(result string) string {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return "NULL"
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "'") || strings.HasPrefix(trimmed, "\"") ||
		strings.HasPrefix(trimmed, "?") || strings.ContainsAny(trimmed, "(). ") {
		return trimmed
	}
	return "'" + strings.ReplaceAll(trimmed, "'", "''") + "'"
}

func (a *Adapter) BooleanLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// CoerceFilterValue turns booleans into 0/1 and time.Time values into
// unix-epoch millisecond integers, and recurses into arrays, per
// spec.md §4.A. Date strings (such as the RFC 3339 bounds the Filter
// Compiler binds for inDateRange) pass through unchanged.
func (a *Adapter) CoerceFilterValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case time.Time:
		return t.UnixMilli()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = a.CoerceFilterValue(e)
		}
		return out
	default:
		return v
	}
}

func (a *Adapter) IntervalFromISO(duration string) (string, error) {
	d, err := dialect.ParseISODuration(duration)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(d.TotalSeconds(), 10), nil
}

func (a *Adapter) TimeDifferenceSeconds(end, start string) string {
	// Storage is already unix-epoch seconds.
	return fmt.Sprintf("(%s - %s)", end, start)
}

func (a *Adapter) DateAddInterval(ts, duration string) (string, error) {
	seconds, err := a.IntervalFromISO(duration)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s + %s)", ts, seconds), nil
}

func (a *Adapter) ConditionalAggregation(fn dialect.AggFn, expr string, condition string) string {
	if fn == dialect.AggCount && expr == "" {
		return fmt.Sprintf("COUNT(CASE WHEN %s THEN 1 END)", condition)
	}
	return fmt.Sprintf("%s(CASE WHEN %s THEN %s END)", strings.ToUpper(string(fn)), condition, expr)
}

func (a *Adapter) Stddev(expr string) (string, bool) {
	return "", false
}

func (a *Adapter) Variance(expr string) (string, bool) {
	return "", false
}

func (a *Adapter) Percentile(expr string, p float64) (string, bool) {
	// Percentile-in-CTE-subquery is unsupported; callers must inline, per spec.md §4.A.
	return "", false
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

// PreprocessCalculatedTemplate wraps division numerators in CAST(... AS
// REAL) to avoid SQLite's integer-division truncation, per spec.md §4.A.
// It rewrites only the simple "A / B" shape produced by a resolved
// calculated-measure template; anything more complex is left untouched
// because the template author is expected to cast explicitly.
func (a *Adapter) PreprocessCalculatedTemplate(template string) string {
	if !strings.Contains(template, "/") {
		return template
	}
	parts := strings.SplitN(template, "/", 2)
	if len(parts) != 2 {
		return template
	}
	numerator := strings.TrimSpace(parts[0])
	if numerator == "" || strings.HasPrefix(numerator, "CAST(") {
		return template
	}
	return fmt.Sprintf("CAST(%s AS REAL) /%s", numerator, parts[1])
}

func (a *Adapter) TimestampStorageIsInteger() bool { return true }

// ConvertTimeDimensionResult canonicalizes SQLite's ISO-format strings
// (as emitted by TruncateTime's datetime()/strftime() calls) back into
// the UTC instant representation shared with the other dialects.
func (a *Adapter) ConvertTimeDimensionResult(v any) (any, error) {
	switch t := v.(type) {
	case string:
		s := strings.ReplaceAll(t, " ", "T")
		if !strings.HasSuffix(s, "Z") {
			s += "Z"
		}
		return s, nil
	default:
		return v, nil
	}
}

// DSN mirrors the teacher's sql.Open("sqlite", config.DbName) call in
// database/sqlite3/database.go: the modernc.org/sqlite driver accepts a
// bare filesystem path (or ":memory:") as its DSN.
func DSN(path string) string { return path }
