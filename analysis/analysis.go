// Package analysis implements the three specialized analyses: Funnel,
// Flow, and Retention. Each compiles directly to a dialect-bound SQL
// statement rather than going through plan.Plan/sqlbuilder, since
// their CTE shapes are structurally different from a standard
// dimension/measure query.
package analysis

import (
	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/filtercompiler"
)

// Built is a compiled analysis statement: text plus bound parameters.
type Built struct {
	SQL    string
	Params []any
}

// Compiler compiles FunnelSpec/FlowSpec/RetentionSpec queries.
type Compiler struct {
	Registry *cube.Registry
	Dialect  dialect.Adapter
	Filters  *filtercompiler.Compiler
}

func New(r *cube.Registry, dia dialect.Adapter) *Compiler {
	return &Compiler{Registry: r, Dialect: dia, Filters: filtercompiler.New(r, dia)}
}

// resolveDimension looks up a "Cube.member" dimension reference and
// returns its owning cube name and SQL column expression.
func (c *Compiler) resolveDimension(ref string) (cubeName, expr string, err error) {
	rm, err := c.Registry.ResolveMember(ref)
	if err != nil {
		return "", "", err
	}
	return rm.Cube, rm.Dimension.SQL, nil
}

// dimensionInCube looks up a dimension by bare name on a specific
// cube, used when a funnel step overrides its cube but the binding
// key / time dimension names are expected to match across cubes.
func (c *Compiler) dimensionInCube(cubeName, member string) (string, error) {
	cc, err := c.Registry.Lookup(cubeName)
	if err != nil {
		return "", err
	}
	d, ok := cc.Dimensions[member]
	if !ok {
		return "", errs.UnknownField(cubeName + "." + member)
	}
	return d.SQL, nil
}
