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

// Flow compiles a bidirectional event-sequence analysis anchored on
// startingStep: for every anchor row it walks up to stepsBefore events
// backward and stepsAfter events forward along the entity's timeline,
// emitting (fromEvent, toEvent, position, count) rows suitable for a
// Sankey view.
//
// Two join strategies are available: lateral (one LATERAL subquery
// per relative offset, unioned) and window (ROW_NUMBER/LAG/LEAD over
// the partitioned timeline). auto picks lateral when the dialect
// supports it, else window; SQLite always gets window since it has no
// lateral-join support.
func (c *Compiler) Flow(qctx cube.QueryContext, spec query.FlowSpec) (*Built, error) {
	if spec.StepsBefore < 0 || spec.StepsBefore > 5 || spec.StepsAfter < 0 || spec.StepsAfter > 5 {
		return nil, errs.InvalidFilter("", "stepsBefore/stepsAfter must each be in [0,5]")
	}
	cubeName, bindingExpr, err := c.resolveDimension(spec.BindingKey)
	if err != nil {
		return nil, err
	}
	_, timeExpr, err := c.resolveDimension(spec.TimeDimension)
	if err != nil {
		return nil, err
	}
	_, eventExpr, err := c.resolveDimension(spec.EventDimension)
	if err != nil {
		return nil, err
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
	anchorFilter, err := c.Filters.Compile([]query.FilterTree{spec.StartingStep}, params)
	if err != nil {
		return nil, err
	}

	strategy := spec.JoinStrategy
	if strategy == "" {
		strategy = query.JoinAuto
	}
	useLateral := c.Dialect.Capabilities().SupportsLateralJoins &&
		(strategy == query.JoinLateral || strategy == query.JoinAuto)

	if useLateral {
		return c.flowLateral(table, bq.Where, bindingExpr, timeExpr, eventExpr, anchorFilter, spec, params)
	}
	return c.flowWindow(table, bq.Where, bindingExpr, timeExpr, eventExpr, anchorFilter, spec, params)
}

// requalify rewrites a "table.column"-shaped dimension expression to
// use a different table alias, by replacing everything up to the last
// dot. Flow's correlated subquery needs a second instance of the same
// physical table under its own alias; this assumes dimension SQL for
// bindingKey/timeDimension/eventDimension is a plain column reference
// rather than a computed expression, which holds for every cube this
// analysis is meant to run over (entity event logs).
func requalify(expr, alias string) string {
	idx := strings.LastIndex(expr, ".")
	if idx < 0 {
		return alias + "." + expr
	}
	return alias + expr[idx:]
}

// flowLateral emits one LATERAL subquery per relative position, each
// seeking the Nth row before/after the anchor on the entity's
// timeline, unioned into one (position, fromEvent, toEvent, count) set.
// The outer row is left unaliased so dimension SQL (already qualified
// with the real table name) resolves against it directly; the
// correlated search instance is requalified under its own alias.
func (c *Compiler) flowLateral(table, baseWhere, bindingExpr, timeExpr, eventExpr, anchorFilter string, spec query.FlowSpec, params *filtercompiler.Params) (*Built, error) {
	nxtEvent := requalify(eventExpr, "nxt")
	nxtTime := requalify(timeExpr, "nxt")
	nxtBinding := requalify(bindingExpr, "nxt")

	var parts []string
	for pos := -spec.StepsBefore; pos <= spec.StepsAfter; pos++ {
		if pos == 0 {
			continue
		}
		offset := pos
		order, cmp := "ASC", ">"
		if pos < 0 {
			offset = -pos
			order, cmp = "DESC", "<"
		}
		part := fmt.Sprintf(
			"SELECT %d AS position, %s AS from_event, nxt.event AS to_event, COUNT(*) AS occurrences "+
				"FROM %s, LATERAL (SELECT %s AS event FROM %s nxt WHERE %s %s %s AND %s = %s ORDER BY %s %s LIMIT 1 OFFSET %d) nxt "+
				"WHERE %s GROUP BY %s, nxt.event",
			pos, eventExpr,
			table, nxtEvent, table, nxtTime, cmp, timeExpr, nxtBinding, bindingExpr, nxtTime, order, offset-1,
			combineWhere(anchorFilter, baseWhere), eventExpr,
		)
		parts = append(parts, part)
	}
	sql := strings.Join(parts, " UNION ALL ")
	return &Built{SQL: sql, Params: params.Values()}, nil
}

// flowWindow is the fallback strategy for dialects without LATERAL
// support (and SQLite unconditionally): LAG/LEAD over the
// binding-key-partitioned, time-ordered timeline reconstructs each
// relative offset without a correlated subquery.
func (c *Compiler) flowWindow(table, baseWhere, bindingExpr, timeExpr, eventExpr, anchorFilter string, spec query.FlowSpec, params *filtercompiler.Params) (*Built, error) {
	var offsetCols []string
	for pos := -spec.StepsBefore; pos <= spec.StepsAfter; pos++ {
		if pos == 0 {
			continue
		}
		kind := dialect.Lead
		offset := pos
		if pos < 0 {
			kind = dialect.Lag
			offset = -pos
		}
		// Window()'s expr argument is spliced directly into LAG(%s)/
		// LEAD(%s), so passing "col, n" renders the two-argument form.
		expr, err := c.Dialect.Window(kind, fmt.Sprintf("%s, %d", eventExpr, offset), []string{bindingExpr}, []string{timeExpr}, nil)
		if err != nil {
			return nil, err
		}
		offsetCols = append(offsetCols, fmt.Sprintf("%s AS pos_%d", expr, pos))
	}

	isAnchorExpr := c.Dialect.CaseWhen(
		[]dialect.CaseBranch{{Cond: anchorFilter, Result: c.Dialect.BooleanLiteral(true)}},
		c.Dialect.BooleanLiteral(false),
	)

	inner := fmt.Sprintf("SELECT %s AS from_event, %s AS is_anchor, %s", eventExpr, isAnchorExpr, strings.Join(offsetCols, ", "))
	inner += fmt.Sprintf(" FROM %s", table)
	if w := combineWhere(baseWhere); w != "" {
		inner += " WHERE " + w
	}

	var unionParts []string
	for pos := -spec.StepsBefore; pos <= spec.StepsAfter; pos++ {
		if pos == 0 {
			continue
		}
		unionParts = append(unionParts, fmt.Sprintf(
			"SELECT %d AS position, from_event, pos_%d AS to_event, COUNT(*) AS occurrences FROM (%s) w WHERE is_anchor = %s AND pos_%d IS NOT NULL GROUP BY from_event, pos_%d",
			pos, pos, inner, c.Dialect.BooleanLiteral(true), pos, pos,
		))
	}
	sql := strings.Join(unionParts, " UNION ALL ")
	return &Built{SQL: sql, Params: params.Values()}, nil
}
