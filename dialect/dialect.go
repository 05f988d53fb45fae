// Package dialect is the pluggable SQL-fragment backend described in
// spec.md §4.A. Each supported database (postgres, mysql, singlestore,
// sqlite, duckdb) implements Adapter; the planner, SQL builder, and
// analysis compilers consume only this interface and never branch on
// dialect name directly.
package dialect

import (
	"fmt"

	"github.com/k0kubun/semlayer/errs"
)

// Granularity is a time-dimension truncation unit.
type Granularity string

const (
	Second  Granularity = "second"
	Minute  Granularity = "minute"
	Hour    Granularity = "hour"
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

// StringOp is a string-matching filter operator.
type StringOp string

const (
	Contains    StringOp = "contains"
	NotContains StringOp = "notContains"
	StartsWith  StringOp = "startsWith"
	EndsWith    StringOp = "endsWith"
	Like        StringOp = "like"
	NotLike     StringOp = "notLike"
	ILike       StringOp = "ilike"
	Regex       StringOp = "regex"
	NotRegex    StringOp = "notRegex"
)

// CastType is a target type for Cast.
type CastType string

const (
	Timestamp CastType = "timestamp"
	Decimal   CastType = "decimal"
	Integer   CastType = "integer"
)

// AggFn is a conditionally-aggregated function.
type AggFn string

const (
	AggCount AggFn = "count"
	AggAvg   AggFn = "avg"
	AggMin   AggFn = "min"
	AggMax   AggFn = "max"
	AggSum   AggFn = "sum"
)

// WindowKind is a window-function variant.
type WindowKind string

const (
	Lag         WindowKind = "lag"
	Lead        WindowKind = "lead"
	Rank        WindowKind = "rank"
	DenseRank   WindowKind = "dense_rank"
	RowNumber   WindowKind = "row_number"
	Ntile       WindowKind = "ntile"
	FirstValue  WindowKind = "first_value"
	LastValue   WindowKind = "last_value"
	MovingAvg   WindowKind = "moving_avg"
	MovingSum   WindowKind = "moving_sum"
)

// CaseBranch is one WHEN <cond> THEN <result> arm of CaseWhen.
type CaseBranch struct {
	Cond   string
	Result string
}

// Frame describes a window frame clause (ROWS/RANGE BETWEEN ...).
// Zero value means "no explicit frame".
type Frame struct {
	Kind      string // "rows" or "range"
	Preceding int    // number of units preceding CURRENT ROW, -1 means UNBOUNDED
	Following int    // number of units following CURRENT ROW, -1 means UNBOUNDED
}

// Capabilities flags what a dialect can natively emit. Consumers branch
// on these instead of on the dialect's name.
type Capabilities struct {
	SupportsStddev               bool
	SupportsVariance              bool
	SupportsPercentile            bool
	SupportsPercentileSubqueries  bool
	SupportsWindowFunctions       bool
	SupportsFrameClause           bool
	SupportsLateralJoins          bool
	TimestampStorageIsInteger     bool
}

// Adapter is the full dialect contract from spec.md §4.A.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	Quote(identifier string) string
	Placeholder(position int) string

	TruncateTime(g Granularity, expr string) string
	StringMatch(expr string, op StringOp, value string) (string, error)
	Cast(expr string, t CastType) string
	Avg(expr string) string
	CaseWhen(cases []CaseBranch, elseExpr string) string
	BooleanLiteral(v bool) string
	CoerceFilterValue(v any) any
	IntervalFromISO(duration string) (string, error)
	TimeDifferenceSeconds(end, start string) string
	DateAddInterval(ts, duration string) (string, error)
	ConditionalAggregation(fn AggFn, expr string, condition string) string
	Stddev(expr string) (string, bool)
	Variance(expr string) (string, bool)
	Percentile(expr string, p float64) (string, bool)
	Window(kind WindowKind, expr string, partitionBy, orderBy []string, frame *Frame) (string, error)
	PreprocessCalculatedTemplate(template string) string
	TimestampStorageIsInteger() bool
	ConvertTimeDimensionResult(v any) (any, error)
}

// UnsupportedFeature is a convenience constructor consumers use when an
// Adapter method signals it cannot emit the requested construct.
func UnsupportedFeature(dialectName, feature string) error {
	return errs.UnsupportedDialectFeature(fmt.Sprintf("%s: %s", dialectName, feature))
}
