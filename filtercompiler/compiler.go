// Package filtercompiler implements the Filter & Time-Range Compiler
// from spec.md §4.C: it translates filter trees and relative date
// ranges into SQL predicates bound through a dialect.Adapter.
package filtercompiler

import (
	"fmt"
	"strings"
	"time"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/query"
)

// Params accumulates bound parameter values in positional order; the
// SQL Builder renders placeholders from it via the Adapter so no value
// is ever string-spliced into the statement.
type Params struct {
	values []any
	dia    dialect.Adapter
}

func NewParams(dia dialect.Adapter) *Params { return &Params{dia: dia} }

// Bind coerces v through the adapter and appends it, returning the
// placeholder SQL fragment to embed at the call site.
func (p *Params) Bind(v any) string {
	p.values = append(p.values, p.dia.CoerceFilterValue(v))
	return p.dia.Placeholder(len(p.values))
}

func (p *Params) Values() []any { return p.values }

// Compiler compiles FilterTree nodes into SQL predicate strings.
type Compiler struct {
	Registry *cube.Registry
	Dialect  dialect.Adapter
	Now      func() time.Time // injectable clock; defaults to time.Now
}

func New(r *cube.Registry, dia dialect.Adapter) *Compiler {
	return &Compiler{Registry: r, Dialect: dia, Now: time.Now}
}

func (c *Compiler) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// CurrentTime exposes the compiler's injectable clock to callers
// outside the package (the three analyses resolve their own
// dateRange without going through Compile), so a test can fake "now"
// for Retention the same way it already can for filter compilation.
func (c *Compiler) CurrentTime() time.Time {
	return c.now()
}

// memberSQL resolves "Cube.member" to the SQL expression a predicate
// should compare against (its column reference).
func (c *Compiler) memberSQL(ref string) (string, cube.ResolvedMember, error) {
	rm, err := c.Registry.ResolveMember(ref)
	if err != nil {
		return "", cube.ResolvedMember{}, err
	}
	if rm.Kind != cube.KindDimension {
		return "", rm, errs.InvalidFilter(ref, "filters may only reference dimensions")
	}
	return rm.Dimension.SQL, rm, nil
}

// Compile compiles a top-level filter list (an implicit AND of
// siblings, per spec.md §3) into a single predicate string and binds
// every literal value through params.
func (c *Compiler) Compile(filters []query.FilterTree, params *Params) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		s, err := c.compileNode(f, params)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " AND "), nil
}

func (c *Compiler) compileNode(f query.FilterTree, params *Params) (string, error) {
	if !f.IsLeaf() {
		return c.compileComposite(f, params)
	}
	return c.compileLeaf(f, params)
}

func (c *Compiler) compileComposite(f query.FilterTree, params *Params) (string, error) {
	var children []query.FilterTree
	var joiner string
	switch {
	case f.And != nil:
		children, joiner = f.And, " AND "
	case f.Or != nil:
		children, joiner = f.Or, " OR "
	default:
		return "", errs.InvalidFilter("", "composite filter node has neither and nor or")
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		s, err := c.compileNode(child, params)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (c *Compiler) compileLeaf(f query.FilterTree, params *Params) (string, error) {
	expr, rm, err := c.memberSQL(f.Member)
	if err != nil {
		return "", err
	}
	if !f.DateRange.IsZero() && f.Operator != query.OpInDateRange && f.Operator != query.OpNotInDateRange {
		return "", errs.InvalidFilter(f.Member, "dateRange is only valid on inDateRange/notInDateRange")
	}

	switch f.Operator {
	case query.OpInDateRange, query.OpNotInDateRange:
		return c.compileDateRangeOp(f, expr, rm, params)
	case query.OpBeforeDate, query.OpAfterDate:
		return c.compileBeforeAfter(f, expr, params)
	case query.OpSet:
		return fmt.Sprintf("%s IS NOT NULL", expr), nil
	case query.OpNotSet:
		return fmt.Sprintf("%s IS NULL", expr), nil
	case query.OpEquals, query.OpNotEquals:
		return c.compileEquals(f, expr, params)
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return c.compileComparison(f, expr, params)
	case query.OpContains, query.OpNotContains, query.OpStartsWith, query.OpEndsWith,
		query.OpLike, query.OpNotLike, query.OpILike, query.OpRegex, query.OpNotRegex:
		return c.compileStringMatch(f, expr, params)
	}
	return "", errs.InvalidFilter(f.Member, fmt.Sprintf("unsupported operator %q", f.Operator))
}

// compileDateRangeOp compiles inDateRange/notInDateRange and rejects a
// non-time dimension; compileLeaf rejects a dateRange on any other
// operator.
func (c *Compiler) compileDateRangeOp(f query.FilterTree, expr string, rm cube.ResolvedMember, params *Params) (string, error) {
	if rm.Dimension.Type != cube.DimTime {
		return "", errs.InvalidFilter(f.Member, "dateRange is only valid against time-type dimensions")
	}
	if f.DateRange.IsZero() {
		return "", errs.InvalidFilter(f.Member, "inDateRange requires a dateRange")
	}
	resolved, err := ResolveDateRange(f.DateRange, c.now())
	if err != nil {
		return "", err
	}
	startPh := params.Bind(resolved.Start.Format(time.RFC3339))
	endPh := params.Bind(resolved.End.Format(time.RFC3339))
	pred := fmt.Sprintf("(%s >= %s AND %s < %s)", expr, startPh, expr, endPh)
	if f.Operator == query.OpNotInDateRange {
		pred = "NOT " + pred
	}
	return pred, nil
}

func (c *Compiler) compileBeforeAfter(f query.FilterTree, expr string, params *Params) (string, error) {
	if len(f.Values) != 1 {
		return "", errs.InvalidFilter(f.Member, "beforeDate/afterDate requires exactly one value")
	}
	ph := params.Bind(f.Values[0])
	if f.Operator == query.OpBeforeDate {
		return fmt.Sprintf("%s < %s", expr, ph), nil
	}
	return fmt.Sprintf("%s > %s", expr, ph), nil
}

func (c *Compiler) compileEquals(f query.FilterTree, expr string, params *Params) (string, error) {
	op := "="
	if f.Operator == query.OpNotEquals {
		op = "<>"
	}
	hasNull := false
	for _, v := range f.Values {
		if v == nil {
			hasNull = true
		}
	}
	nonNull := make([]any, 0, len(f.Values))
	for _, v := range f.Values {
		if v != nil {
			nonNull = append(nonNull, v)
		}
	}

	var parts []string
	if len(nonNull) == 1 {
		parts = append(parts, fmt.Sprintf("%s %s %s", expr, op, params.Bind(nonNull[0])))
	} else if len(nonNull) > 1 {
		phs := make([]string, len(nonNull))
		for i, v := range nonNull {
			phs[i] = params.Bind(v)
		}
		in := fmt.Sprintf("%s IN (%s)", expr, strings.Join(phs, ", "))
		if f.Operator == query.OpNotEquals {
			in = fmt.Sprintf("%s NOT IN (%s)", expr, strings.Join(phs, ", "))
		}
		parts = append(parts, in)
	}
	if hasNull {
		if f.Operator == query.OpEquals {
			parts = append(parts, fmt.Sprintf("%s IS NULL", expr))
		} else {
			parts = append(parts, fmt.Sprintf("%s IS NOT NULL", expr))
		}
	}
	if len(parts) == 0 {
		return "", errs.InvalidFilter(f.Member, "equals/notEquals requires at least one value")
	}
	joiner := " OR "
	if f.Operator == query.OpNotEquals {
		joiner = " AND "
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func (c *Compiler) compileComparison(f query.FilterTree, expr string, params *Params) (string, error) {
	if len(f.Values) != 1 {
		return "", errs.InvalidFilter(f.Member, "comparison operators require exactly one value")
	}
	ops := map[query.FilterOperator]string{
		query.OpGt: ">", query.OpGte: ">=", query.OpLt: "<", query.OpLte: "<=",
	}
	return fmt.Sprintf("%s %s %s", expr, ops[f.Operator], params.Bind(f.Values[0])), nil
}

func (c *Compiler) compileStringMatch(f query.FilterTree, expr string, params *Params) (string, error) {
	if len(f.Values) != 1 {
		return "", errs.InvalidFilter(f.Member, "string match operators require exactly one value")
	}
	ph := params.Bind(f.Values[0])
	opMap := map[query.FilterOperator]dialect.StringOp{
		query.OpContains: dialect.Contains, query.OpNotContains: dialect.NotContains,
		query.OpStartsWith: dialect.StartsWith, query.OpEndsWith: dialect.EndsWith,
		query.OpLike: dialect.Like, query.OpNotLike: dialect.NotLike,
		query.OpILike: dialect.ILike, query.OpRegex: dialect.Regex, query.OpNotRegex: dialect.NotRegex,
	}
	return c.Dialect.StringMatch(expr, opMap[f.Operator], ph)
}
