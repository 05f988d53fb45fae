package cube

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/util"
)

// calculatedRefRe matches a single {Cube.member} placeholder inside a
// calculated measure's template, per spec.md §3/§9.
var calculatedRefRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// Registry stores cube definitions, resolves field references, and
// enumerates joins, per spec.md §4.B. It is constructed once at
// process start and is read-only thereafter, per spec.md §5. Register
// inserts under mu's write lock and Lookup/CubeNames read under its
// read lock, so calls made concurrently do not race on the cube map.
type Registry struct {
	mu    sync.RWMutex
	cubes map[string]*Cube

	templateCache sync.Map // compiled-template cache, §5: optional, per-registry
}

// New returns an empty, mutable Registry ready for Register calls.
func New() *Registry {
	return &Registry{cubes: make(map[string]*Cube)}
}

// Register validates and adds a cube, per spec.md §4.B:
//   - every member name is unique inside the cube (dimensions and
//     measures share one namespace, since both are referenced as
//     "Cube.member"),
//   - exactly zero or one primary key,
//   - every calculated template references only known members of the
//     same cube,
//   - every join's target cube is eventually resolvable (deferred:
//     target cubes may not exist yet when this one registers, so that
//     check happens lazily in EnumerateJoins / the planner).
func (r *Registry) Register(c Cube) error {
	if c.Name == "" {
		return errs.New(errs.KindInvalidFilter, "", "cube name must not be empty")
	}

	seen := make(map[string]bool, len(c.Dimensions)+len(c.Measures))
	primaryKeys := 0
	for name, d := range c.Dimensions {
		if name != d.Name {
			return fmt.Errorf("cube %s: dimension map key %q does not match Dimension.Name %q", c.Name, name, d.Name)
		}
		if seen[name] {
			return fmt.Errorf("cube %s: duplicate member name %q", c.Name, name)
		}
		seen[name] = true
		if d.PrimaryKey {
			primaryKeys++
		}
	}
	if primaryKeys > 1 {
		return fmt.Errorf("cube %s: at most one dimension may be marked primary key, found %d", c.Name, primaryKeys)
	}

	for name, m := range c.Measures {
		if name != m.Name {
			return fmt.Errorf("cube %s: measure map key %q does not match Measure.Name %q", c.Name, name, m.Name)
		}
		if seen[name] {
			return fmt.Errorf("cube %s: duplicate member name %q", c.Name, name)
		}
		seen[name] = true
	}

	for name, m := range c.Measures {
		if m.Type != MeasureCalculated {
			continue
		}
		for _, match := range calculatedRefRe.FindAllStringSubmatch(m.SQL, -1) {
			refCube, refMember := match[1], match[2]
			if refCube != c.Name {
				return fmt.Errorf("cube %s: calculated measure %s references %s.%s, but calculated measures may only reference same-cube members", c.Name, name, refCube, refMember)
			}
			if !seen[refMember] {
				return fmt.Errorf("cube %s: calculated measure %s references unknown member %s.%s", c.Name, name, refCube, refMember)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cubes == nil {
		r.cubes = make(map[string]*Cube)
	}
	cc := c
	r.cubes[c.Name] = &cc
	return nil
}

// Lookup returns the cube or fails with UnknownCube, per spec.md §4.B.
func (r *Registry) Lookup(name string) (*Cube, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cubes[name]
	if !ok {
		return nil, errs.UnknownCube(name)
	}
	return c, nil
}

// splitFieldRe enforces the "CubeName.memberName" invariant from
// spec.md §3: the cube prefix is mandatory and case-sensitive.
var splitFieldRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)$`)

// SplitField splits "Cube.member" into its two parts, or fails with
// UnknownField if the reference is not of that shape.
func SplitField(ref string) (cubeName, member string, err error) {
	m := splitFieldRe.FindStringSubmatch(ref)
	if m == nil {
		return "", "", errs.UnknownField(ref)
	}
	return m[1], m[2], nil
}

// ResolveMember resolves "Cube.member" to its owning cube, kind, and
// definition, per spec.md §4.B.
func (r *Registry) ResolveMember(ref string) (ResolvedMember, error) {
	cubeName, member, err := SplitField(ref)
	if err != nil {
		return ResolvedMember{}, err
	}
	c, err := r.Lookup(cubeName)
	if err != nil {
		return ResolvedMember{}, errs.UnknownField(ref)
	}
	if d, ok := c.Dimensions[member]; ok {
		return ResolvedMember{Cube: cubeName, Kind: KindDimension, Dimension: d}, nil
	}
	if m, ok := c.Measures[member]; ok {
		return ResolvedMember{Cube: cubeName, Kind: KindMeasure, Measure: m}, nil
	}
	return ResolvedMember{}, errs.UnknownField(ref)
}

// EnumeratedJoin is one outgoing join from a cube with its target
// resolved, per spec.md §4.B.
type EnumeratedJoin struct {
	FromCube string
	Target   *Cube
	Spec     JoinSpec
}

// EnumerateJoins yields outgoing joins from fromCube with target cubes
// resolved, per spec.md §4.B. Iteration order is the target cube name
// sorted lexicographically, so planning stays deterministic (spec.md
// §8 "Idempotent planning").
func (r *Registry) EnumerateJoins(fromCube string) ([]EnumeratedJoin, error) {
	c, err := r.Lookup(fromCube)
	if err != nil {
		return nil, err
	}
	out := make([]EnumeratedJoin, 0, len(c.Joins))
	for target, spec := range util.CanonicalMapIter(c.Joins) {
		targetCube, err := r.Lookup(target)
		if err != nil {
			return nil, fmt.Errorf("cube %s: join target %s does not resolve: %w", fromCube, target, err)
		}
		out = append(out, EnumeratedJoin{FromCube: fromCube, Target: targetCube, Spec: spec})
	}
	return out, nil
}

// CubeNames returns every registered cube name, sorted, for
// deterministic iteration (§8 "Idempotent planning") and for the
// /meta introspection endpoint.
func (r *Registry) CubeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cubes))
	for name := range r.cubes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateCache returns the registry's optional compiled-template
// cache (§5: "optional, per-registry", guarded by a reader-preference
// discipline consistent with its read-mostly workload — sync.Map's
// lock-free read path satisfies this without a separate RWMutex).
func (r *Registry) TemplateCache() *sync.Map {
	return &r.templateCache
}
