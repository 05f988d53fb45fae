package cube

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Declarative YAML shape for hand-authored cube definitions, per
// spec.md §9 ("Implementations should accept either hand-written
// definitions or a schema-driven generator — the core consumes only
// the resolved in-memory shape"). The registry itself only ever sees
// the compiled Cube value this loader produces; nothing downstream of
// Register knows cubes were ever described in YAML.
type yamlCube struct {
	Name         string                  `yaml:"name"`
	Title        string                  `yaml:"title"`
	Description  string                  `yaml:"description"`
	Table        string                  `yaml:"table"`
	SecurityWhere string                 `yaml:"securityWhere"` // e.g. "organisation_id = {{.Security.OrganisationID}}"
	Dimensions   map[string]yamlDimension `yaml:"dimensions"`
	Measures     map[string]yamlMeasure   `yaml:"measures"`
	Joins        map[string]yamlJoin      `yaml:"joins"`
}

type yamlDimension struct {
	Title      string `yaml:"title"`
	Type       string `yaml:"type"`
	SQL        string `yaml:"sql"`
	PrimaryKey bool   `yaml:"primaryKey"`
}

type yamlMeasure struct {
	Title      string  `yaml:"title"`
	Type       string  `yaml:"type"`
	SQL        string  `yaml:"sql"`
	Format     string  `yaml:"format"`
	Percentile float64 `yaml:"percentile"`
}

type yamlJoin struct {
	TargetCube   string      `yaml:"targetCube"`
	Relationship string      `yaml:"relationship"`
	On           []yamlOnPair `yaml:"on"`
	ThroughCube  string       `yaml:"throughCube"`
}

type yamlOnPair struct {
	SourceColumn string `yaml:"sourceColumn"`
	TargetColumn string `yaml:"targetColumn"`
}

// LoadYAML parses one or more YAML cube documents and registers each
// into r. The securityWhere field is a minimal `{{.Security.Field}}`
// template, substituted against the QueryContext at query time so
// every generated BaseQuery stays tenant-scoped per spec.md §3.
func LoadYAML(r *Registry, data []byte) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	for {
		var yc yamlCube
		err := dec.Decode(&yc)
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return fmt.Errorf("parsing cube YAML: %w", err)
		}
		c, err := compileYAMLCube(yc)
		if err != nil {
			return err
		}
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func compileYAMLCube(yc yamlCube) (Cube, error) {
	dims := make(map[string]Dimension, len(yc.Dimensions))
	for name, yd := range yc.Dimensions {
		dims[name] = Dimension{
			Name:       name,
			Title:      yd.Title,
			Type:       DimensionType(yd.Type),
			SQL:        yd.SQL,
			PrimaryKey: yd.PrimaryKey,
		}
	}

	measures := make(map[string]Measure, len(yc.Measures))
	for name, ym := range yc.Measures {
		measures[name] = Measure{
			Name:       name,
			Title:      ym.Title,
			Type:       MeasureType(ym.Type),
			SQL:        ym.SQL,
			Format:     ym.Format,
			Percentile: ym.Percentile,
		}
	}

	joins := make(map[string]JoinSpec, len(yc.Joins))
	for target, yj := range yc.Joins {
		ons := make([]Join, 0, len(yj.On))
		for _, o := range yj.On {
			ons = append(ons, Join{SourceColumn: o.SourceColumn, TargetColumn: o.TargetColumn})
		}
		joins[target] = JoinSpec{
			TargetCube:   yj.TargetCube,
			Relationship: Relationship(yj.Relationship),
			On:           ons,
			ThroughCube:  yj.ThroughCube,
		}
	}

	securityTemplate := yc.SecurityWhere
	table := yc.Table
	sqlSource := func(qc QueryContext) (BaseQuery, error) {
		where, err := renderSecurityTemplate(securityTemplate, qc)
		if err != nil {
			return BaseQuery{}, err
		}
		return BaseQuery{Table: table, Where: where}, nil
	}

	return Cube{
		Name:        yc.Name,
		Title:       yc.Title,
		Description: yc.Description,
		SQLSource:   sqlSource,
		Dimensions:  dims,
		Measures:    measures,
		Joins:       joins,
	}, nil
}

// renderSecurityTemplate does simple `{{.Security.Field}}` substitution
// — it intentionally is not text/template, since the substitutions are
// a closed, known set of scalar fields and a literal replace avoids
// giving a cube definition author an injection surface through Go
// template actions.
func renderSecurityTemplate(tmpl string, qc QueryContext) (string, error) {
	replacer := strings.NewReplacer(
		"{{.Security.OrganisationID}}", quoteLiteral(qc.Security.OrganisationID),
		"{{.Security.UserID}}", quoteLiteral(qc.Security.UserID),
	)
	return replacer.Replace(tmpl), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
