// Package annotate implements the Result Annotator from spec.md §4.G:
// it reshapes a raw columnar rowset (as scanned off database/sql) into
// the Cube.js-compatible envelope {data, annotation, total}, with
// dialect-aware time-dimension conversion and count-type null
// rewriting. It is stateless: every call is independent of every other.
package annotate

import (
	"fmt"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect"
	"github.com/k0kubun/semlayer/errs"
	"github.com/k0kubun/semlayer/sqlbuilder"
)

// ColumnMeta is one entry of an Envelope's annotation maps.
type ColumnMeta struct {
	Title       string `json:"title"`
	ShortTitle  string `json:"shortTitle"`
	Type        string `json:"type"`
	Format      string `json:"format,omitempty"`
	Granularity string `json:"granularity,omitempty"`
}

// Annotation is the envelope's {measures, dimensions, timeDimensions}
// metadata block, keyed by wire column name.
type Annotation struct {
	Measures       map[string]ColumnMeta `json:"measures"`
	Dimensions     map[string]ColumnMeta `json:"dimensions"`
	TimeDimensions map[string]ColumnMeta `json:"timeDimensions"`
}

// Envelope is the bit-exact wire shape from spec.md §6.
type Envelope struct {
	Data       []map[string]any `json:"data"`
	Annotation Annotation       `json:"annotation"`
	Total      *int             `json:"total,omitempty"`
}

// Annotator reshapes (columns, rows) pairs into Envelopes.
type Annotator struct {
	Registry *cube.Registry
	Dialect  dialect.Adapter
}

func New(r *cube.Registry, dia dialect.Adapter) *Annotator {
	return &Annotator{Registry: r, Dialect: dia}
}

// Annotate decodes rows (one []any per row, column-aligned with cols)
// into the standard envelope. total, if non-nil, is copied verbatim
// into the envelope's optional total field (the caller computes it,
// typically via a separate COUNT(*) query over the same filters).
//
// Any decode failure aborts the whole response with ResultDecodeError;
// spec.md §4.G explicitly rules out partial success.
func (a *Annotator) Annotate(cols []sqlbuilder.OutputColumn, rows [][]any, total *int) (*Envelope, error) {
	countLike := make([]bool, len(cols))
	timeCol := make([]bool, len(cols))

	measures := make(map[string]ColumnMeta)
	dimensions := make(map[string]ColumnMeta)
	timeDimensions := make(map[string]ColumnMeta)

	for i, col := range cols {
		name := col.Alias
		rm, err := a.Registry.ResolveMember(col.Ref)
		if err != nil {
			return nil, err
		}

		switch rm.Kind {
		case cube.KindMeasure:
			m := ColumnMeta{
				Title:      title(rm.Measure.Title, rm.Cube, rm.Measure.Name),
				ShortTitle: rm.Measure.Name,
				Type:       "number",
				Format:     rm.Measure.Format,
			}
			countLike[i] = rm.Measure.Type == cube.MeasureCount || rm.Measure.Type == cube.MeasureCountDistinct
			measures[name] = m
		case cube.KindDimension:
			if col.Granularity != "" {
				timeCol[i] = true
				timeDimensions[name] = ColumnMeta{
					Title:       title(rm.Dimension.Title, rm.Cube, rm.Dimension.Name),
					ShortTitle:  rm.Dimension.Name,
					Type:        "time",
					Granularity: col.Granularity,
				}
			} else {
				if rm.Dimension.Type == cube.DimTime {
					timeCol[i] = true
				}
				m := ColumnMeta{
					Title:      title(rm.Dimension.Title, rm.Cube, rm.Dimension.Name),
					ShortTitle: rm.Dimension.Name,
					Type:       string(rm.Dimension.Type),
				}
				dimensions[name] = m
			}
		}
	}

	data := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if len(row) != len(cols) {
			return nil, errs.ResultDecodeError(errColumnCountMismatch(len(cols), len(row)))
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			v := row[i]
			if v == nil && countLike[i] {
				v = 0
			} else if v != nil && timeCol[i] {
				converted, err := a.Dialect.ConvertTimeDimensionResult(v)
				if err != nil {
					return nil, errs.ResultDecodeError(err)
				}
				v = converted
			}
			record[col.Alias] = v
		}
		data = append(data, record)
	}

	return &Envelope{
		Data: data,
		Annotation: Annotation{
			Measures:       measures,
			Dimensions:     dimensions,
			TimeDimensions: timeDimensions,
		},
		Total: total,
	}, nil
}

func title(explicit, cubeName, member string) string {
	if explicit != "" {
		return explicit
	}
	return cubeName + " " + member
}

func errColumnCountMismatch(want, got int) error {
	return fmt.Errorf("expected %d columns, row had %d", want, got)
}
