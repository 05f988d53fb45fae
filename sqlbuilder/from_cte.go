package sqlbuilder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/filtercompiler"
	"github.com/k0kubun/semlayer/plan"
	"github.com/k0kubun/semlayer/query"
)

// calculatedRefRe matches a single {Cube.member} placeholder inside a
// calculated measure's template, mirroring cube.Registry's own
// validation regex so both packages agree on the template grammar.
var calculatedRefRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// buildCTEs renders one pre-aggregation CTE per plan.JoinStep.AsCTE,
// per spec.md §4.D/§4.E: "WITH cte_x AS (SELECT fk, agg(...) FROM
// table GROUP BY fk)". It returns the rendered CTE bodies plus a map
// from "Cube.measure" ref to the SQL expression the outer query must
// select to read that measure back out of its CTE.
func (b *Builder) buildCTEs(qctx cube.QueryContext, p *plan.Plan, params *filtercompiler.Params) ([]string, map[string]string, error) {
	var ctes []string
	selectByMeasure := map[string]string{}

	for _, step := range p.Joins {
		if step.AsCTE == nil {
			continue
		}
		cteDef := step.AsCTE

		c, err := b.Registry.Lookup(cteDef.Cube)
		if err != nil {
			return nil, nil, err
		}
		bq, err := c.SQLSource(qctx)
		if err != nil {
			return nil, nil, fmt.Errorf("cube %s: sqlSource: %w", cteDef.Cube, err)
		}

		selectCols := make([]string, 0, len(cteDef.GroupByCols)+len(cteDef.Measures))
		for _, col := range cteDef.GroupByCols {
			selectCols = append(selectCols, col)
		}
		for _, measureRef := range cteDef.Measures {
			rm, err := b.Registry.ResolveMember(measureRef)
			if err != nil {
				return nil, nil, err
			}
			expr, err := b.rawMeasureExpr(rm.Measure, rm.Cube, nil)
			if err != nil {
				return nil, nil, err
			}
			alias := cteMeasureAlias(measureRef)
			selectCols = append(selectCols, fmt.Sprintf("%s AS %s", expr, b.Dialect.Quote(alias)))
			selectByMeasure[measureRef] = fmt.Sprintf("%s.%s", b.Dialect.Quote(cteDef.Name), b.Dialect.Quote(alias))
		}

		var from strings.Builder
		from.WriteString(bq.Table)
		for _, j := range bq.Joins {
			from.WriteString(" ")
			from.WriteString(j)
		}

		var sb strings.Builder
		sb.WriteString(b.Dialect.Quote(cteDef.Name))
		sb.WriteString(" AS (SELECT ")
		sb.WriteString(strings.Join(selectCols, ", "))
		sb.WriteString(" FROM ")
		sb.WriteString(from.String())
		if bq.Where != "" {
			sb.WriteString(" WHERE ")
			sb.WriteString(bq.Where)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cteDef.GroupByCols, ", "))
		sb.WriteString(")")

		ctes = append(ctes, sb.String())
	}

	return ctes, selectByMeasure, nil
}

func cteMeasureAlias(ref string) string {
	return strings.ReplaceAll(ref, ".", "_")
}

// buildFromJoin renders the FROM clause: the primary cube's base
// table and static joins, followed by one LEFT JOIN per plan.JoinStep
// — either against the dependent cube's pre-aggregation CTE (joined
// on the CTE's group-by columns) or against its raw base table
// (joined on the declared on-pairs), per spec.md §4.D/§4.E.
func (b *Builder) buildFromJoin(p *plan.Plan, baseQueries map[string]cube.BaseQuery) (string, error) {
	var sb strings.Builder
	primaryBQ := baseQueries[p.Primary]
	sb.WriteString(primaryBQ.Table)
	for _, j := range primaryBQ.Joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}

	for _, step := range p.Joins {
		if step.AsCTE != nil {
			sb.WriteString(fmt.Sprintf(" LEFT JOIN %s ON ", b.Dialect.Quote(step.AsCTE.Name)))
			conds := make([]string, 0, len(step.On))
			for i, on := range step.On {
				conds = append(conds, fmt.Sprintf("%s = %s.%s", on.SourceColumn, b.Dialect.Quote(step.AsCTE.Name), b.Dialect.Quote(step.AsCTE.GroupByCols[i])))
			}
			sb.WriteString(strings.Join(conds, " AND "))
			continue
		}

		targetBQ, ok := baseQueries[step.ToCube]
		if !ok {
			return "", fmt.Errorf("internal: no base query resolved for joined cube %s", step.ToCube)
		}
		sb.WriteString(" LEFT JOIN ")
		sb.WriteString(targetBQ.Table)
		for _, j := range targetBQ.Joins {
			sb.WriteString(" ")
			sb.WriteString(j)
		}
		sb.WriteString(" ON ")
		conds := make([]string, 0, len(step.On))
		for _, on := range step.On {
			conds = append(conds, fmt.Sprintf("%s = %s", on.SourceColumn, on.TargetColumn))
		}
		if targetBQ.Where != "" {
			conds = append(conds, "("+targetBQ.Where+")")
		}
		sb.WriteString(strings.Join(conds, " AND "))
	}

	return sb.String(), nil
}

// buildOrderBy renders ORDER BY, resolving each ordered ref to either
// a dimension expression, a CTE-materialized measure column, or a
// freshly computed measure aggregate, per spec.md §4.E.
func (b *Builder) buildOrderBy(orders []query.Order, exprByDimension map[string]string, cteSelectByMeasure map[string]string) ([]string, error) {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		expr, ok := exprByDimension[o.Field]
		if !ok {
			rm, err := b.Registry.ResolveMember(o.Field)
			if err != nil {
				return nil, err
			}
			expr, err = b.measureExpr(rm, cteSelectByMeasure)
			if err != nil {
				return nil, err
			}
		}
		dir := "ASC"
		if strings.EqualFold(o.Direction, "desc") {
			dir = "DESC"
		}
		out = append(out, fmt.Sprintf("%s %s", expr, dir))
	}
	return out, nil
}
