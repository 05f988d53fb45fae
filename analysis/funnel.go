package analysis

import (
	"fmt"
	"strings"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/filtercompiler"
	"github.com/k0kubun/semlayer/query"
)

// Funnel compiles an ordered per-entity conversion analysis, worked
// example: steps view→click→purchase over two users, one of whom
// converts all the way through within the timeToConvert window while
// the other reaches every step but misses the window at click. That
// example requires two distinct counts per step:
//   - entered: reached this step at some point after the previous
//     step, with no time-window constraint.
//   - converted: reached this step within timeToConvert of the
//     previous step, chained from the previous step's converted set —
//     once an entity misses a window it can never convert later.
//
// Each count is its own CTE chain (entered_i / converted_i); the final
// statement is a UNION ALL of one row per step reading both chains,
// with entered_0 as the conversion-rate denominator and converted_0 as
// the baseline instant for the time metrics.
func (c *Compiler) Funnel(qctx cube.QueryContext, spec query.FunnelSpec) (*Built, error) {
	if len(spec.Steps) == 0 {
		return nil, errs.InvalidFilter("", "funnel requires at least one step")
	}
	bindingCube, bindingExpr, err := c.resolveDimension(spec.BindingKey)
	if err != nil {
		return nil, err
	}
	_, timeExpr, err := c.resolveDimension(spec.TimeDimension)
	if err != nil {
		return nil, err
	}

	params := filtercompiler.NewParams(c.Dialect)

	var enteredCTEs, convertedCTEs []string
	for i, step := range spec.Steps {
		stepCube := step.Cube
		if stepCube == "" {
			stepCube = bindingCube
		}
		stepBindingExpr := bindingExpr
		stepTimeExpr := timeExpr
		if stepCube != bindingCube {
			stepBindingExpr, err = c.dimensionInCube(stepCube, lastSegment(spec.BindingKey))
			if err != nil {
				return nil, err
			}
			stepTimeExpr, err = c.dimensionInCube(stepCube, lastSegment(spec.TimeDimension))
			if err != nil {
				return nil, err
			}
		}

		cc, err := c.Registry.Lookup(stepCube)
		if err != nil {
			return nil, err
		}
		bq, err := cc.SQLSource(qctx)
		if err != nil {
			return nil, err
		}

		var stepFilterSQL string
		if step.Filter != nil {
			stepFilterSQL, err = c.Filters.Compile([]query.FilterTree{*step.Filter}, params)
			if err != nil {
				return nil, err
			}
		}

		ttc := step.TimeToConvert
		if ttc == "" {
			ttc = spec.TimeToConvert
		}

		enteredName := fmt.Sprintf("entered_%d", i)
		convertedName := fmt.Sprintf("converted_%d", i)

		stepTable := bq.Table
		for _, j := range bq.Joins {
			stepTable += " " + j
		}

		if i == 0 {
			where := combineWhere(bq.Where, stepFilterSQL)
			cte := fmt.Sprintf(
				"%s AS (SELECT %s AS binding_key, MIN(%s) AS step_time FROM %s%s GROUP BY %s)",
				c.Dialect.Quote(enteredName), stepBindingExpr, stepTimeExpr, stepTable, whereClause(where), stepBindingExpr,
			)
			enteredCTEs = append(enteredCTEs, cte)
			convertedCTEs = append(convertedCTEs, strings.Replace(cte, enteredName, convertedName, 1))
			continue
		}

		prevEntered := fmt.Sprintf("entered_%d", i-1)
		prevConverted := fmt.Sprintf("converted_%d", i-1)

		// stepBindingExpr/stepTimeExpr are already table-qualified
		// ("events.user_id"); requalify swaps that qualifier for the
		// "cur" alias this CTE gives its JOINed instance of the step
		// table, the same rewrite Flow applies for its own correlated
		// instance (flow.go's requalify).
		curTime := requalify(stepTimeExpr, "cur")
		curBinding := requalify(stepBindingExpr, "cur")

		enteredWhere := combineWhere(bq.Where, stepFilterSQL)
		enteredCTEs = append(enteredCTEs, fmt.Sprintf(
			"%s AS (SELECT p.binding_key AS binding_key, MIN(%s) AS step_time FROM %s p JOIN %s cur ON %s = p.binding_key AND %s > p.step_time%s GROUP BY p.binding_key)",
			c.Dialect.Quote(enteredName), curTime, c.Dialect.Quote(prevEntered), stepTable, curBinding, curTime, joinWhere(enteredWhere),
		))

		upperBound := ""
		if ttc != "" {
			addExpr, err := c.Dialect.DateAddInterval("p.step_time", ttc)
			if err != nil {
				return nil, err
			}
			upperBound = fmt.Sprintf(" AND %s <= %s", curTime, addExpr)
		}
		convertedCTEs = append(convertedCTEs, fmt.Sprintf(
			"%s AS (SELECT p.binding_key AS binding_key, MIN(%s) AS step_time FROM %s p JOIN %s cur ON %s = p.binding_key AND %s > p.step_time%s%s GROUP BY p.binding_key)",
			c.Dialect.Quote(convertedName), curTime, c.Dialect.Quote(prevConverted), stepTable, curBinding, curTime, upperBound, joinWhere(enteredWhere),
		))
	}

	var rows []string
	for i, step := range spec.Steps {
		enteredName := c.Dialect.Quote(fmt.Sprintf("entered_%d", i))
		convertedName := c.Dialect.Quote(fmt.Sprintf("converted_%d", i))
		entered0 := c.Dialect.Quote("entered_0")

		timeMetric := "NULL"
		if spec.IncludeTimeMetrics {
			converted0 := c.Dialect.Quote("converted_0")
			timeMetric = fmt.Sprintf(
				"(SELECT AVG(%s) FROM %s c JOIN %s c0 ON c0.binding_key = c.binding_key)",
				c.Dialect.TimeDifferenceSeconds("c.step_time", "c0.step_time"), convertedName, converted0,
			)
		}

		conversionRate := fmt.Sprintf(
			"CASE WHEN (SELECT COUNT(*) FROM %s) = 0 THEN NULL ELSE %s END",
			entered0, c.Dialect.Cast(fmt.Sprintf("(SELECT COUNT(*) FROM %s)", convertedName), dialect.Decimal)+
				fmt.Sprintf(" / (SELECT COUNT(*) FROM %s)", entered0),
		)

		row := fmt.Sprintf(
			"SELECT %s AS step_name, %d AS position, "+
				"(SELECT COUNT(*) FROM %s) AS entered, "+
				"(SELECT COUNT(*) FROM %s) AS converted, "+
				"%s AS avg_time_to_convert_seconds, "+
				"%s AS conversion_rate",
			params.Bind(step.Name), i, enteredName, convertedName, timeMetric, conversionRate,
		)
		rows = append(rows, row)
	}

	allCTEs := append(append([]string{}, enteredCTEs...), convertedCTEs...)
	sql := "WITH " + strings.Join(allCTEs, ", ") + " " + strings.Join(rows, " UNION ALL ")

	return &Built{SQL: sql, Params: params.Values()}, nil
}

func lastSegment(ref string) string {
	idx := strings.LastIndex(ref, ".")
	if idx < 0 {
		return ref
	}
	return ref[idx+1:]
}

func combineWhere(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, "("+p+")")
		}
	}
	return strings.Join(nonEmpty, " AND ")
}

func whereClause(w string) string {
	if w == "" {
		return ""
	}
	return " WHERE " + w
}

func joinWhere(w string) string {
	if w == "" {
		return ""
	}
	return " AND " + w
}
