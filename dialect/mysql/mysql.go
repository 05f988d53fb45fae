// Package mysql implements the dialect.Adapter contract for MySQL.
// DSN assembly mirrors the teacher's mysqlBuildDSN
// (database/mysql/database.go), building a go-sql-driver/mysql
// driver.Config instead of hand-formatting the DSN string.
package mysql

import (
	"fmt"
	"strings"

	driver "github.com/go-sql-driver/mysql"
	"github.com/k0kubun/semlayer/dialect"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "mysql" }

func (a *Adapter) Capabilities() dialect.Capabilities {
	return dialect.Capabilities{
		SupportsStddev:              true,
		SupportsVariance:             true,
		SupportsPercentile:           false,
		SupportsPercentileSubqueries: false,
		SupportsWindowFunctions:      true,
		SupportsFrameClause:          true,
		SupportsLateralJoins:         true, // MySQL 8.0.14+; see spec.md §4.F Flow
		TimestampStorageIsInteger:    false,
	}
}

func (a *Adapter) Quote(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

func (a *Adapter) Placeholder(position int) string { return "?" }

func (a *Adapter) TruncateTime(g dialect.Granularity, expr string) string {
	switch g {
	case dialect.Second:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:%%i:%%s')", expr)
	case dialect.Minute:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:%%i:00')", expr)
	case dialect.Hour:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:00:00')", expr)
	case dialect.Day:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d 00:00:00')", expr)
	case dialect.Week:
		return fmt.Sprintf("DATE_SUB(DATE_FORMAT(%s, '%%Y-%%m-%%d 00:00:00'), INTERVAL WEEKDAY(%s) DAY)", expr, expr)
	case dialect.Month:
		return fmt.Sprintf("MAKEDATE(YEAR(%s), 1) + INTERVAL (MONTH(%s) - 1) MONTH", expr, expr)
	case dialect.Quarter:
		return fmt.Sprintf("MAKEDATE(YEAR(%s), 1) + INTERVAL (QUARTER(%s) - 1) QUARTER", expr, expr)
	case dialect.Year:
		return fmt.Sprintf("MAKEDATE(YEAR(%s), 1)", expr)
	}
	return expr
}

func (a *Adapter) StringMatch(expr string, op dialect.StringOp, value string) (string, error) {
	lowerExpr := fmt.Sprintf("LOWER(%s)", expr)
	lowerVal := fmt.Sprintf("LOWER(%s)", value)
	switch op {
	case dialect.Contains:
		return fmt.Sprintf("%s LIKE CONCAT('%%', %s, '%%')", lowerExpr, lowerVal), nil
	case dialect.NotContains:
		return fmt.Sprintf("%s NOT LIKE CONCAT('%%', %s, '%%')", lowerExpr, lowerVal), nil
	case dialect.StartsWith:
		return fmt.Sprintf("%s LIKE CONCAT(%s, '%%')", lowerExpr, lowerVal), nil
	case dialect.EndsWith:
		return fmt.Sprintf("%s LIKE CONCAT('%%', %s)", lowerExpr, lowerVal), nil
	case dialect.Like, dialect.ILike:
		return fmt.Sprintf("%s LIKE %s", lowerExpr, lowerVal), nil
	case dialect.NotLike:
		return fmt.Sprintf("%s NOT LIKE %s", lowerExpr, lowerVal), nil
	case dialect.Regex:
		return fmt.Sprintf("%s REGEXP %s", lowerExpr, lowerVal), nil
	case dialect.NotRegex:
		return fmt.Sprintf("%s NOT REGEXP %s", lowerExpr, lowerVal), nil
	}
	return "", dialect.UnsupportedFeature(a.Name(), "stringMatch:"+string(op))
}

func (a *Adapter) Cast(expr string, t dialect.CastType) string {
	switch t {
	case dialect.Timestamp:
		return fmt.Sprintf("CAST(%s AS DATETIME)", expr)
	case dialect.Decimal:
		return fmt.Sprintf("CAST(%s AS DECIMAL(65,6))", expr)
	case dialect.Integer:
		return fmt.Sprintf("CAST(%s AS SIGNED)", expr)
	}
	return expr
}

func (a *Adapter) Avg(expr string) string {
	return fmt.Sprintf("IFNULL(AVG(%s), 0)", expr)
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
	var parts []string
	if d.Years > 0 {
		parts = append(parts, fmt.Sprintf("INTERVAL %d YEAR", d.Years))
	}
	if d.Months > 0 {
		parts = append(parts, fmt.Sprintf("INTERVAL %d MONTH", d.Months))
	}
	if d.Days > 0 {
		parts = append(parts, fmt.Sprintf("INTERVAL %d DAY", d.Days))
	}
	if d.Hours > 0 {
		parts = append(parts, fmt.Sprintf("INTERVAL %d HOUR", d.Hours))
	}
	if d.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("INTERVAL %d MINUTE", d.Minutes))
	}
	if d.Seconds > 0 {
		parts = append(parts, fmt.Sprintf("INTERVAL %d SECOND", d.Seconds))
	}
	if len(parts) == 0 {
		parts = []string{"INTERVAL 0 SECOND"}
	}
	return strings.Join(parts, " + "), nil
}

func (a *Adapter) TimeDifferenceSeconds(end, start string) string {
	return fmt.Sprintf("TIMESTAMPDIFF(SECOND, %s, %s)", start, end)
}

func (a *Adapter) DateAddInterval(ts, duration string) (string, error) {
	interval, err := a.IntervalFromISO(duration)
	if err != nil {
		return "", err
	}
	// MySQL cannot add several INTERVAL literals with `+`; chain DATE_ADD calls instead.
	expr := ts
	for _, term := range strings.Split(interval, " + ") {
		term = strings.TrimPrefix(term, "INTERVAL ")
		fields := strings.SplitN(term, " ", 2)
		expr = fmt.Sprintf("DATE_ADD(%s, INTERVAL %s %s)", expr, fields[0], fields[1])
	}
	return expr, nil
}

func (a *Adapter) ConditionalAggregation(fn dialect.AggFn, expr string, condition string) string {
	if fn == dialect.AggCount && expr == "" {
		return fmt.Sprintf("COUNT(CASE WHEN %s THEN 1 END)", condition)
	}
	return fmt.Sprintf("%s(CASE WHEN %s THEN %s END)", strings.ToUpper(string(fn)), condition, expr)
}

func (a *Adapter) Stddev(expr string) (string, bool) {
	return fmt.Sprintf("STDDEV_SAMP(%s)", expr), true
}

func (a *Adapter) Variance(expr string) (string, bool) {
	return fmt.Sprintf("VAR_SAMP(%s)", expr), true
}

func (a *Adapter) Percentile(expr string, p float64) (string, bool) {
	// MySQL has no native PERCENTILE_CONT; callers must inline a
	// window-function approximation instead (see spec.md §4.A).
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

func (a *Adapter) PreprocessCalculatedTemplate(template string) string {
	return template
}

func (a *Adapter) TimestampStorageIsInteger() bool { return false }

func (a *Adapter) ConvertTimeDimensionResult(v any) (any, error) {
	return v, nil
}

// Config mirrors the subset of options the teacher's database.Config
// plumbs into mysqlBuildDSN.
type Config struct {
	User, Password, DbName, Host, Socket string
	Port                                  int
	EnableCleartextPlugin                 bool
	TLSConfig                             string
}

// BuildDSN follows the teacher's mysqlBuildDSN
// (database/mysql/database.go): a go-sql-driver/mysql driver.Config
// populated from our Config and formatted via FormatDSN.
func BuildDSN(c Config) string {
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.DbName
	cfg.AllowCleartextPasswords = c.EnableCleartextPlugin
	cfg.TLSConfig = c.TLSConfig
	if c.Socket == "" {
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	} else {
		cfg.Net = "unix"
		cfg.Addr = c.Socket
	}
	cfg.ParseTime = true
	return cfg.FormatDSN()
}
