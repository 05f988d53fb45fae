// Package cube implements the Cube Registry & schema model from
// spec.md §3 and §4.B: typed cube definitions with security-context–
// bound row filters, and the registry operations (register, lookup,
// resolveMember, enumerateJoins) that every later stage depends on.
package cube

import "context"

// SecurityContext is the opaque, caller-supplied tenant/user scope
// threaded into every cube's sqlSource, per spec.md §3. Its shape is
// implementation-defined; semlayer uses the commonly-cited
// {organisationId, userId, roles} record.
type SecurityContext struct {
	OrganisationID string
	UserID         string
	Roles          []string
}

// QueryContext carries whatever a sqlSource or measure filter function
// needs to compute its row-level predicate: the request's
// context.Context and the caller's security scope. It does not carry
// the dialect.
type QueryContext struct {
	Context  context.Context
	Security SecurityContext
}

// Join is a single equality pair inside a JoinSpec's `on` list.
type Join struct {
	SourceColumn string
	TargetColumn string
}

// Relationship is one of the four cube relationship kinds from spec.md §3.
type Relationship string

const (
	BelongsTo     Relationship = "belongsTo"
	HasOne        Relationship = "hasOne"
	HasMany       Relationship = "hasMany"
	BelongsToMany Relationship = "belongsToMany"
)

// JoinSpec describes one outgoing join declared on a cube. TargetCube
// is a lazy reference (a name, not a pointer) precisely so reciprocal
// joins can be declared without ordering constraints, per spec.md §9.
type JoinSpec struct {
	TargetCube   string
	Relationship Relationship
	On           []Join

	// ThroughCube names the join-table cube of a BelongsToMany join.
	// The planner does not read it: a belongsToMany join is traversed
	// as one direct edge to TargetCube.
	ThroughCube string
}

// DimensionType is one of the four dimension value types from spec.md §3.
type DimensionType string

const (
	DimString  DimensionType = "string"
	DimNumber  DimensionType = "number"
	DimBoolean DimensionType = "boolean"
	DimTime    DimensionType = "time"
)

// Dimension is a groupable column, per spec.md §3.
type Dimension struct {
	Name        string
	Title       string
	Type        DimensionType
	SQL         string
	PrimaryKey  bool
}

// MeasureType is one of the measure aggregation kinds from spec.md §3.
type MeasureType string

const (
	MeasureCount         MeasureType = "count"
	MeasureCountDistinct MeasureType = "countDistinct"
	MeasureSum           MeasureType = "sum"
	MeasureAvg           MeasureType = "avg"
	MeasureMin           MeasureType = "min"
	MeasureMax           MeasureType = "max"
	MeasureStddev        MeasureType = "stddev"
	MeasureVariance      MeasureType = "variance"
	MeasurePercentile    MeasureType = "percentile"
	MeasureCalculated    MeasureType = "calculated"
)

// RowFilterFunc computes a row-level predicate (applied before
// aggregation) from the caller's QueryContext, per spec.md §3.
type RowFilterFunc func(QueryContext) (string, error)

// Measure is an aggregating expression over rows of (possibly joined)
// cubes, per spec.md §3.
type Measure struct {
	Name       string
	Title      string
	Type       MeasureType
	SQL        string // column reference, or {Cube.member} template for Calculated
	Filters    []RowFilterFunc
	Format     string
	Percentile float64 // only meaningful when Type == MeasurePercentile
}

// BaseQuery is the result of a cube's SQLSource function: a root
// table, zero or more static joins, and a security-bound WHERE
// predicate, per spec.md §3.
type BaseQuery struct {
	Table  string
	Joins  []string // pre-rendered static join clauses, in declaration order
	Where  string   // must include the security-context filter
}

// SQLSourceFunc maps a QueryContext to a BaseQuery. Every
// implementation MUST fold the caller's SecurityContext into Where;
// the registry does not enforce this at compile time (spec.md leaves
// the shape of SecurityContext implementation-defined) but every
// consumer downstream trusts that it was done, and the tenant
// isolation test in spec.md §8 exists specifically to catch a
// SQLSourceFunc that forgot.
type SQLSourceFunc func(QueryContext) (BaseQuery, error)

// Cube is a named logical table with typed dimensions and measures and
// a tenant-scoped row source, per spec.md §3 and GLOSSARY.
type Cube struct {
	Name        string
	Title       string
	Description string
	SQLSource   SQLSourceFunc
	Dimensions  map[string]Dimension
	Measures    map[string]Measure
	Joins       map[string]JoinSpec // keyed by target cube name
}

// MemberKind distinguishes a resolved field reference's kind.
type MemberKind string

const (
	KindDimension MemberKind = "dimension"
	KindMeasure   MemberKind = "measure"
)

// ResolvedMember is what resolveMember returns: the owning cube name,
// the member's kind, and its definition in whichever of Dimension or
// Measure Kind names; the other field is left zero.
type ResolvedMember struct {
	Cube       string
	Kind       MemberKind
	Dimension  Dimension
	Measure    Measure
}

// PrimaryKeyDimension returns the cube's primary-key dimension, if any.
// spec.md §3 guarantees at most one per cube; Register enforces it.
func (c *Cube) PrimaryKeyDimension() (Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.PrimaryKey {
			return d, true
		}
	}
	return Dimension{}, false
}
