// Package sqlbuilder implements the SQL Builder from spec.md §4.E: it
// assembles a single statement from a plan.Plan — CTE header, select
// list, FROM/JOIN, WHERE, GROUP BY, ORDER BY, LIMIT/OFFSET.
package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/filtercompiler"
	"github.com/k0kubun/semlayer/plan"
	"github.com/k0kubun/semlayer/query"
)

// OutputColumn describes one selected column for the Result Annotator.
type OutputColumn struct {
	Alias       string // "Cube.member" or "Cube.member.granularity"
	Ref         string // "Cube.member"
	Kind        cube.MemberKind
	Granularity string
}

// Built is the SQL Builder's output: the statement text, its bound
// parameters in placeholder order, and output column metadata.
type Built struct {
	SQL     string
	Params  []any
	Columns []OutputColumn
}

// Builder assembles SQL statements from plans.
type Builder struct {
	Registry *cube.Registry
	Dialect  dialect.Adapter
	Filters  *filtercompiler.Compiler
}

func New(r *cube.Registry, dia dialect.Adapter) *Builder {
	return &Builder{Registry: r, Dialect: dia, Filters: filtercompiler.New(r, dia)}
}

// Build compiles q into a single SQL statement bound to qctx's
// security scope, per spec.md §4.D/§4.E.
func (b *Builder) Build(qctx cube.QueryContext, q query.Query) (*Built, error) {
	p, err := plan.Build(b.Registry, q)
	if err != nil {
		return nil, err
	}
	return b.buildFromPlan(qctx, q, p)
}

func (b *Builder) buildFromPlan(qctx cube.QueryContext, q query.Query, p *plan.Plan) (*Built, error) {
	params := filtercompiler.NewParams(b.Dialect)

	baseQueries := map[string]cube.BaseQuery{}
	for _, cubeName := range p.CubesInPath() {
		c, err := b.Registry.Lookup(cubeName)
		if err != nil {
			return nil, err
		}
		bq, err := c.SQLSource(qctx)
		if err != nil {
			return nil, fmt.Errorf("cube %s: sqlSource: %w", cubeName, err)
		}
		baseQueries[cubeName] = bq
	}

	ctes, cteSelectByMeasure, err := b.buildCTEs(qctx, p, params)
	if err != nil {
		return nil, err
	}

	exprByDimension, err := b.resolveDimensionExprs(p)
	if err != nil {
		return nil, err
	}

	selectExprs, columns, err := b.buildSelectList(p, exprByDimension, cteSelectByMeasure)
	if err != nil {
		return nil, err
	}

	fromClause, err := b.buildFromJoin(p, baseQueries)
	if err != nil {
		return nil, err
	}

	// Only the primary cube's security predicate belongs in the outer
	// WHERE clause. A joined cube's predicate is folded into its JOIN's
	// ON clause (buildFromJoin) instead: placing it in WHERE would
	// reject the all-NULL row a LEFT JOIN produces for an unmatched
	// primary row, silently turning the LEFT JOIN into an INNER JOIN. A
	// CTE-joined cube's predicate is already applied inside the CTE
	// body (buildCTEs), so it must not be repeated here either.
	whereParts := make([]string, 0, 1+len(q.Filters))
	if w := baseQueries[p.Primary].Where; w != "" {
		whereParts = append(whereParts, "("+w+")")
	}
	filterPred, err := b.Filters.Compile(q.Filters, params)
	if err != nil {
		return nil, err
	}
	if filterPred != "" {
		whereParts = append(whereParts, filterPred)
	}

	groupByExprs := make([]string, 0, len(p.GroupBy))
	for _, ref := range p.GroupBy {
		groupByExprs = append(groupByExprs, exprByDimension[ref])
	}

	orderByExprs, err := b.buildOrderBy(q.Order, exprByDimension, cteSelectByMeasure)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	if len(ctes) > 0 {
		sb.WriteString("WITH ")
		sb.WriteString(strings.Join(ctes, ", "))
		sb.WriteString(" ")
	}
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(selectExprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(fromClause)
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}
	if len(groupByExprs) > 0 && len(p.Measures) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groupByExprs, ", "))
	}
	if len(orderByExprs) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderByExprs, ", "))
	}
	if p.HasLimit {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", p.Limit))
	}
	if p.Offset > 0 {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", p.Offset))
	}

	return &Built{SQL: sb.String(), Params: params.Values(), Columns: columns}, nil
}

func (b *Builder) resolveDimensionExprs(p *plan.Plan) (map[string]string, error) {
	out := map[string]string{}
	for _, ref := range p.Select {
		rm, err := b.Registry.ResolveMember(ref)
		if err != nil {
			return nil, err
		}
		out[ref] = rm.Dimension.SQL
	}
	return out, nil
}

func columnAlias(ref, granularity string) string {
	if granularity != "" {
		return ref + "." + granularity
	}
	return ref
}

// buildSelectList renders the SELECT list: dimensions (wrapped in
// TruncateTime when a granularity is given), then measures (CTE
// columns verbatim, aggregates, or expanded calculated templates),
// per spec.md §4.E.
func (b *Builder) buildSelectList(p *plan.Plan, exprByDimension map[string]string, cteSelectByMeasure map[string]string) ([]string, []OutputColumn, error) {
	var exprs []string
	var columns []OutputColumn

	for i, ref := range p.Select {
		rm, err := b.Registry.ResolveMember(ref)
		if err != nil {
			return nil, nil, err
		}
		expr := exprByDimension[ref]
		alias := ref
		var gran string
		if i < len(p.Granularities) {
			gran = p.Granularities[i]
		}
		if gran != "" && rm.Dimension.Type == cube.DimTime {
			expr = b.Dialect.TruncateTime(dialect.Granularity(gran), expr)
			alias = columnAlias(ref, gran)
		}
		exprs = append(exprs, fmt.Sprintf("%s AS %s", expr, b.Dialect.Quote(alias)))
		columns = append(columns, OutputColumn{Alias: alias, Ref: ref, Kind: cube.KindDimension, Granularity: gran})
	}

	for _, ref := range p.Measures {
		rm, err := b.Registry.ResolveMember(ref)
		if err != nil {
			return nil, nil, err
		}
		if rm.Kind != cube.KindMeasure {
			return nil, nil, errs.InvalidFilter(ref, "measures list may only reference measures")
		}
		expr, err := b.measureExpr(rm, cteSelectByMeasure)
		if err != nil {
			return nil, nil, err
		}
		exprs = append(exprs, fmt.Sprintf("%s AS %s", expr, b.Dialect.Quote(ref)))
		columns = append(columns, OutputColumn{Alias: ref, Ref: ref, Kind: cube.KindMeasure})
	}

	return exprs, columns, nil
}

// measureExpr renders one measure's aggregate SQL expression. If the
// measure is already materialized by a pre-aggregation CTE, the CTE's
// column is selected verbatim, per spec.md §4.D.
func (b *Builder) measureExpr(rm cube.ResolvedMember, cteSelectByMeasure map[string]string) (string, error) {
	ref := rm.Cube + "." + rm.Measure.Name
	if cteExpr, ok := cteSelectByMeasure[ref]; ok {
		return cteExpr, nil
	}
	return b.rawMeasureExpr(rm.Measure, rm.Cube, cteSelectByMeasure)
}

func (b *Builder) rawMeasureExpr(m cube.Measure, cubeName string, cteSelectByMeasure map[string]string) (string, error) {
	switch m.Type {
	case cube.MeasureCount:
		if m.SQL == "" {
			return "COUNT(*)", nil
		}
		return fmt.Sprintf("COUNT(%s)", m.SQL), nil
	case cube.MeasureCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", m.SQL), nil
	case cube.MeasureSum:
		return fmt.Sprintf("SUM(%s)", m.SQL), nil
	case cube.MeasureAvg:
		return b.Dialect.Avg(m.SQL), nil
	case cube.MeasureMin:
		return fmt.Sprintf("MIN(%s)", m.SQL), nil
	case cube.MeasureMax:
		return fmt.Sprintf("MAX(%s)", m.SQL), nil
	case cube.MeasureStddev:
		expr, ok := b.Dialect.Stddev(m.SQL)
		if !ok {
			return "", dialect.UnsupportedFeature(b.Dialect.Name(), "stddev")
		}
		return expr, nil
	case cube.MeasureVariance:
		expr, ok := b.Dialect.Variance(m.SQL)
		if !ok {
			return "", dialect.UnsupportedFeature(b.Dialect.Name(), "variance")
		}
		return expr, nil
	case cube.MeasurePercentile:
		expr, ok := b.Dialect.Percentile(m.SQL, m.Percentile)
		if !ok {
			return "", dialect.UnsupportedFeature(b.Dialect.Name(), "percentile")
		}
		return expr, nil
	case cube.MeasureCalculated:
		return b.expandCalculatedTemplate(m.SQL, cubeName, cteSelectByMeasure, 0)
	}
	return "", errs.InvalidFilter(cubeName+"."+m.Name, fmt.Sprintf("unknown measure type %q", m.Type))
}

// maxTemplateDepth bounds calculated-measure template substitution, per
// spec.md §9 ("a bounded-depth substitution pass to forbid recursion").
const maxTemplateDepth = 8

func (b *Builder) expandCalculatedTemplate(template, cubeName string, cteSelectByMeasure map[string]string, depth int) (string, error) {
	if depth > maxTemplateDepth {
		return "", errs.New(errs.KindInvalidFilter, cubeName, "calculated measure template exceeds max substitution depth; likely a cycle")
	}
	expanded := calculatedRefRe.ReplaceAllStringFunc(template, func(match string) string {
		groups := calculatedRefRe.FindStringSubmatch(match)
		refCube, refMember := groups[1], groups[2]
		c, err := b.Registry.Lookup(refCube)
		if err != nil {
			return match
		}
		m, ok := c.Measures[refMember]
		if ok {
			ref := refCube + "." + refMember
			if cteExpr, ok := cteSelectByMeasure[ref]; ok {
				return cteExpr
			}
			if m.Type == cube.MeasureCalculated {
				sub, err := b.expandCalculatedTemplate(m.SQL, refCube, cteSelectByMeasure, depth+1)
				if err != nil {
					return match
				}
				return "(" + sub + ")"
			}
			sub, err := b.rawMeasureExpr(m, refCube, cteSelectByMeasure)
			if err != nil {
				return match
			}
			return sub
		}
		if d, ok := c.Dimensions[refMember]; ok {
			return d.SQL
		}
		return match
	})
	return b.Dialect.PreprocessCalculatedTemplate(expanded), nil
}
