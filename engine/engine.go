// Package engine wires the registry, planner, filter compiler, SQL
// builder, executor, and result annotator into the request-shaped
// operations the transport layer calls: run a standard query, run one
// of the three specialized analyses, or compile either without
// executing.
//
// Grounded on the teacher's top-level sqldef.Run: a single function
// sequencing dump -> generate -> branch -> apply. Engine follows the
// same "sequence the pipeline stages" discipline, but returns errors
// throughout instead of log.Fatal/os.Exit — Engine is a library
// consumed by cmd/semlayerd's HTTP handlers, not a CLI entrypoint, so
// the fatal-exit behavior the teacher uses belongs only in cmd/semlayerd.
package engine

import (
	"context"

	"github.com/k0kubun/semlayer/analysis"
	"github.com/k0kubun/semlayer/annotate"
	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/executor"
	"github.com/k0kubun/semlayer/query"
	"github.com/k0kubun/semlayer/sqlbuilder"
)

// Engine is the assembled core: registry + dialect + the five
// compiler/executor stages. The zero value is not usable; build one
// with New.
type Engine struct {
	Registry *cube.Registry
	Dialect  dialect.Adapter
	Builder  *sqlbuilder.Builder
	Analysis *analysis.Compiler
	Executor *executor.Executor
	Annotate *annotate.Annotator
}

// New wires an Engine around a registry, dialect adapter, and an
// already-open connection pool. The pool is injected, never opened
// here: opening connections is cmd/semlayerd's job, not the core's.
func New(r *cube.Registry, dia dialect.Adapter, ex *executor.Executor) *Engine {
	return &Engine{
		Registry: r,
		Dialect:  dia,
		Builder:  sqlbuilder.New(r, dia),
		Analysis: analysis.New(r, dia),
		Executor: ex,
		Annotate: annotate.New(r, dia),
	}
}

// Compiled is what CompileSQL returns: generated SQL plus bound
// parameters, without running anything, for the /sql endpoint.
type Compiled struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

// CompileSQL builds the statement for a standard query and returns it
// unexecuted.
func (e *Engine) CompileSQL(qctx cube.QueryContext, q query.Query) (*Compiled, error) {
	built, err := e.Builder.Build(qctx, q)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: built.SQL, Params: built.Params}, nil
}

// Execute compiles, runs, and annotates a standard query, returning
// the wire envelope from §6.
func (e *Engine) Execute(ctx context.Context, qctx cube.QueryContext, q query.Query) (*annotate.Envelope, error) {
	built, err := e.Builder.Build(qctx, q)
	if err != nil {
		return nil, err
	}
	result, err := e.Executor.Query(ctx, built.SQL, built.Params)
	if err != nil {
		return nil, err
	}
	return e.Annotate.Annotate(built.Columns, result.Rows, nil)
}

// runRows executes a plain column/value statement (no OutputColumn
// metadata) and returns it column-for-column, for the three analyses,
// whose CTE shapes are compiled directly by analysis.Compiler rather
// than through plan.Plan/sqlbuilder and so carry no OutputColumn list
// to annotate against.
func (e *Engine) runRows(ctx context.Context, built *analysis.Built) (*executor.Result, error) {
	return e.Executor.Query(ctx, built.SQL, built.Params)
}

// CompileFunnel, CompileFlow, CompileRetention mirror CompileSQL for
// the three analyses, for the /sql dry-run path.
func (e *Engine) CompileFunnel(qctx cube.QueryContext, spec query.FunnelSpec) (*Compiled, error) {
	built, err := e.Analysis.Funnel(qctx, spec)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: built.SQL, Params: built.Params}, nil
}

func (e *Engine) CompileFlow(qctx cube.QueryContext, spec query.FlowSpec) (*Compiled, error) {
	built, err := e.Analysis.Flow(qctx, spec)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: built.SQL, Params: built.Params}, nil
}

func (e *Engine) CompileRetention(qctx cube.QueryContext, spec query.RetentionSpec) (*Compiled, error) {
	built, err := e.Analysis.Retention(qctx, spec)
	if err != nil {
		return nil, err
	}
	return &Compiled{SQL: built.SQL, Params: built.Params}, nil
}

// ExecuteFunnel, ExecuteFlow, ExecuteRetention run the corresponding
// analysis and return its raw rowset. These bypass annotate.Annotator:
// a funnel/flow/retention result is shaped by the analysis itself
// (step name, position, period number, ...), not by a cube member
// list, so there is no OutputColumn metadata to resolve titles/types
// from — the transport layer pairs result.Columns with result.Rows
// directly.
func (e *Engine) ExecuteFunnel(ctx context.Context, qctx cube.QueryContext, spec query.FunnelSpec) (*executor.Result, error) {
	built, err := e.Analysis.Funnel(qctx, spec)
	if err != nil {
		return nil, err
	}
	return e.runRows(ctx, built)
}

func (e *Engine) ExecuteFlow(ctx context.Context, qctx cube.QueryContext, spec query.FlowSpec) (*executor.Result, error) {
	built, err := e.Analysis.Flow(qctx, spec)
	if err != nil {
		return nil, err
	}
	return e.runRows(ctx, built)
}

func (e *Engine) ExecuteRetention(ctx context.Context, qctx cube.QueryContext, spec query.RetentionSpec) (*executor.Result, error) {
	built, err := e.Analysis.Retention(qctx, spec)
	if err != nil {
		return nil, err
	}
	return e.runRows(ctx, built)
}

// Meta describes every registered cube for the /meta endpoint: cube
// names plus each dimension's and measure's name, title and type, with
// no security filtering beyond which cubes exist, per §6.
type Meta struct {
	Cubes []CubeMeta `json:"cubes"`
}

// CubeMeta is one cube's introspection payload.
type CubeMeta struct {
	Name       string       `json:"name"`
	Dimensions []MemberMeta `json:"dimensions,omitempty"`
	Measures   []MemberMeta `json:"measures,omitempty"`
}

// MemberMeta is one dimension or measure's introspection entry.
type MemberMeta struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Meta builds the /meta payload from the registry's declared cubes.
func (e *Engine) Meta() Meta {
	var out Meta
	for _, name := range e.Registry.CubeNames() {
		c, err := e.Registry.Lookup(name)
		if err != nil {
			continue
		}
		cm := CubeMeta{Name: name}
		for _, d := range c.Dimensions {
			cm.Dimensions = append(cm.Dimensions, MemberMeta{
				Name:  d.Name,
				Title: titleOr(d.Title, name, d.Name),
				Type:  string(d.Type),
			})
		}
		for _, m := range c.Measures {
			cm.Measures = append(cm.Measures, MemberMeta{
				Name:  m.Name,
				Title: titleOr(m.Title, name, m.Name),
				Type:  "number",
			})
		}
		out.Cubes = append(out.Cubes, cm)
	}
	return out
}

func titleOr(explicit, cubeName, member string) string {
	if explicit != "" {
		return explicit
	}
	return cubeName + " " + member
}
