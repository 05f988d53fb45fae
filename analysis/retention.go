package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/filtercompiler"
	"github.com/k0kubun/semlayer/query"
)

// granularityUnit maps a retention granularity to the ISO-8601 duration
// unit letter used to build one period's offset interval.
func granularityUnit(g string) (string, error) {
	switch g {
	case "day":
		return "D", nil
	case "week":
		return "W", nil
	case "month":
		return "M", nil
	}
	return "", errs.InvalidFilter("", fmt.Sprintf("unsupported retention granularity %q", g))
}

// Retention compiles a cohort-vs-activity retention matrix: entities
// are grouped into a cohort by the first period their binding key
// appears in cohortFilters-matching rows inside dateRange, then for
// each of periods offsets (0..periods-1) checked against activity rows
// for whether that entity was still active. classic counts activity in
// exactly that period; rolling counts activity in that period or any
// later one, per spec.md §4.F.
//
// Each period is its own UNION ALL branch (one DateAddInterval call per
// offset) rather than a recursive numbering CTE, since Adapter's date
// arithmetic takes a fixed duration literal, not a column-driven one —
// the same per-step unrolling discipline Funnel uses.
func (c *Compiler) Retention(qctx cube.QueryContext, spec query.RetentionSpec) (*Built, error) {
	if spec.Periods < 1 || spec.Periods > 52 {
		return nil, errs.InvalidFilter("", "periods must be in [1,52]")
	}
	if spec.DateRange.IsZero() {
		return nil, errs.InvalidFilter("", "retention requires a dateRange")
	}
	unit, err := granularityUnit(spec.Granularity)
	if err != nil {
		return nil, err
	}
	retentionType := spec.RetentionType
	if retentionType == "" {
		retentionType = query.RetentionClassic
	}

	cubeName, bindingExpr, err := c.resolveDimension(spec.BindingKey)
	if err != nil {
		return nil, err
	}
	_, timeExpr, err := c.resolveDimension(spec.TimeDimension)
	if err != nil {
		return nil, err
	}

	breakdownExprs := make([]string, 0, len(spec.BreakdownDimensions))
	breakdownAliases := make([]string, 0, len(spec.BreakdownDimensions))
	for _, ref := range spec.BreakdownDimensions {
		dimCube, expr, err := c.resolveDimension(ref)
		if err != nil {
			return nil, err
		}
		if dimCube != cubeName {
			return nil, errs.InvalidFilter(ref, "breakdown dimensions must belong to the same cube as bindingKey")
		}
		breakdownExprs = append(breakdownExprs, expr)
		breakdownAliases = append(breakdownAliases, "bd_"+lastSegment(ref))
	}

	cc, err := c.Registry.Lookup(cubeName)
	if err != nil {
		return nil, err
	}
	bq, err := cc.SQLSource(qctx)
	if err != nil {
		return nil, err
	}
	table := bq.Table
	for _, j := range bq.Joins {
		table += " " + j
	}

	params := filtercompiler.NewParams(c.Dialect)

	resolved, err := filtercompiler.ResolveDateRange(spec.DateRange, c.Filters.CurrentTime())
	if err != nil {
		return nil, err
	}
	return c.buildRetentionSQL(table, bq.Where, bindingExpr, timeExpr, unit, breakdownExprs, breakdownAliases, spec, retentionType, resolved, params)
}

func (c *Compiler) buildRetentionSQL(
	table, baseWhere, bindingExpr, timeExpr, unit string,
	breakdownExprs, breakdownAliases []string,
	spec query.RetentionSpec,
	retentionType query.RetentionType,
	resolved filtercompiler.ResolvedRange,
	params *filtercompiler.Params,
) (*Built, error) {
	startPh := params.Bind(resolved.Start.Format(time.RFC3339))
	endPh := params.Bind(resolved.End.Format(time.RFC3339))

	cohortFilterSQL, err := c.Filters.Compile(spec.CohortFilters, params)
	if err != nil {
		return nil, err
	}
	activityFilterSQL, err := c.Filters.Compile(spec.ActivityFilters, params)
	if err != nil {
		return nil, err
	}

	bucketExpr := c.Dialect.TruncateTime(dialect.Granularity(spec.Granularity), timeExpr)

	breakdownSelect := ""
	breakdownGroupBy := ""
	for i, expr := range breakdownExprs {
		breakdownSelect += fmt.Sprintf(", %s AS %s", expr, breakdownAliases[i])
		breakdownGroupBy += fmt.Sprintf(", %s", breakdownAliases[i])
	}

	cohortWhere := combineWhere(baseWhere, cohortFilterSQL, fmt.Sprintf("%s >= %s", timeExpr, startPh), fmt.Sprintf("%s < %s", timeExpr, endPh))
	cohortCTE := fmt.Sprintf(
		"%s AS (SELECT %s AS binding_key, MIN(%s) AS cohort_period%s FROM %s%s GROUP BY %s%s)",
		c.Dialect.Quote("cohort"), bindingExpr, bucketExpr, breakdownSelect, table, whereClause(cohortWhere), bindingExpr, breakdownGroupBy,
	)

	activityWhere := combineWhere(baseWhere, activityFilterSQL)
	activityCTE := fmt.Sprintf(
		"%s AS (SELECT %s AS binding_key, %s AS activity_period FROM %s%s)",
		c.Dialect.Quote("activity"), bindingExpr, bucketExpr, table, whereClause(activityWhere),
	)

	var rows []string
	for period := 0; period < spec.Periods; period++ {
		duration := fmt.Sprintf("P%d%s", period, unit)
		periodStart, err := c.Dialect.DateAddInterval("c.cohort_period", duration)
		if err != nil {
			return nil, err
		}

		var matchCond string
		if retentionType == query.RetentionRolling {
			matchCond = fmt.Sprintf("a.activity_period >= %s", periodStart)
		} else {
			matchCond = fmt.Sprintf("a.activity_period = %s", periodStart)
		}

		retained := fmt.Sprintf(
			"COUNT(DISTINCT CASE WHEN EXISTS (SELECT 1 FROM %s a WHERE a.binding_key = c.binding_key AND %s) THEN c.binding_key END)",
			c.Dialect.Quote("activity"), matchCond,
		)

		breakdownCols := ""
		for _, alias := range breakdownAliases {
			breakdownCols += fmt.Sprintf(", c.%s AS %s", alias, alias)
		}

		cohortSize := "COUNT(DISTINCT c.binding_key)"
		retentionRate := fmt.Sprintf(
			"CASE WHEN %s = 0 THEN NULL ELSE %s / %s END",
			cohortSize, c.Dialect.Cast(retained, dialect.Decimal), c.Dialect.Cast(cohortSize, dialect.Decimal),
		)

		row := fmt.Sprintf(
			"SELECT c.cohort_period AS cohort_period, %d AS period_number%s, %s AS cohort_size, %s AS retained_count, %s AS retention_rate FROM %s c GROUP BY c.cohort_period%s",
			period, breakdownCols, cohortSize, retained, retentionRate, c.Dialect.Quote("cohort"), breakdownGroupBy,
		)
		rows = append(rows, row)
	}

	sql := "WITH " + strings.Join([]string{cohortCTE, activityCTE}, ", ") + " " + strings.Join(rows, " UNION ALL ")
	return &Built{SQL: sql, Params: params.Values()}, nil
}
