// Package query defines the wire-shaped input types from spec.md §3:
// the standard Query, its FilterTree, and the three specialized
// analysis queries (funnel, flow, retention).
package query

import (
	"encoding/json"
	"regexp"
)

// relativeLastNRe matches the "last N (days|weeks|months|years)" shape
// of the relative date range grammar from spec.md §4.C.
var relativeLastNRe = regexp.MustCompile(`^last \d+ (days|weeks|months|years)$`)

// Order is one {field: 'asc'|'desc'} entry. A slice (not a map) is
// used at the call site to preserve insertion order, per spec.md §3.
type Order struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// TimeDimension is one entry of Query.TimeDimensions.
type TimeDimension struct {
	Dimension   string        `json:"dimension"`
	Granularity string        `json:"granularity,omitempty"` // optional; empty means "no truncation, raw value"
	DateRange   DateRangeSpec `json:"dateRange,omitempty"`
}

// DateRangeSpec is the union of absolute pair / single ISO date /
// relative phrase accepted wherever spec.md §3 allows a dateRange.
// Exactly one of the three should be populated; Relative takes
// priority if multiple are set by a careless caller.
type DateRangeSpec struct {
	Relative string // "today", "last 30 days", ...
	Single   string // a single ISO date
	Start    string // absolute pair start (ISO date or datetime)
	End      string // absolute pair end
}

func (d DateRangeSpec) IsZero() bool {
	return d.Relative == "" && d.Single == "" && d.Start == "" && d.End == ""
}

// UnmarshalJSON accepts the three wire shapes spec.md §3 allows for a
// dateRange: a bare string (single date or relative phrase), or a
// two-element [start, end] array.
func (d *DateRangeSpec) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if isRelativePhrase(s) {
			d.Relative = s
		} else {
			d.Single = s
		}
		return nil
	}
	var pair [2]string
	if err := json.Unmarshal(b, &pair); err == nil {
		d.Start, d.End = pair[0], pair[1]
		return nil
	}
	return &json.UnsupportedValueError{Str: string(b)}
}

func isRelativePhrase(s string) bool {
	switch s {
	case "today", "yesterday",
		"this week", "last week", "this month", "last month",
		"this quarter", "last quarter", "this year", "last year":
		return true
	}
	return relativeLastNRe.MatchString(s)
}

// FilterOperator is one of the leaf-filter operators from spec.md §4.C.
type FilterOperator string

const (
	OpEquals         FilterOperator = "equals"
	OpNotEquals      FilterOperator = "notEquals"
	OpContains       FilterOperator = "contains"
	OpNotContains    FilterOperator = "notContains"
	OpStartsWith     FilterOperator = "startsWith"
	OpEndsWith       FilterOperator = "endsWith"
	OpLike           FilterOperator = "like"
	OpNotLike        FilterOperator = "notLike"
	OpILike          FilterOperator = "ilike"
	OpRegex          FilterOperator = "regex"
	OpNotRegex       FilterOperator = "notRegex"
	OpGt             FilterOperator = "gt"
	OpGte            FilterOperator = "gte"
	OpLt             FilterOperator = "lt"
	OpLte            FilterOperator = "lte"
	OpSet            FilterOperator = "set"
	OpNotSet         FilterOperator = "notSet"
	OpInDateRange    FilterOperator = "inDateRange"
	OpNotInDateRange FilterOperator = "notInDateRange"
	OpBeforeDate     FilterOperator = "beforeDate"
	OpAfterDate      FilterOperator = "afterDate"
)

// FilterTree is either a leaf {member, operator, values?, dateRange?}
// or a composite {and: [...]} / {or: [...]}, per spec.md §3.
type FilterTree struct {
	// Leaf fields.
	Member    string         `json:"member,omitempty"`
	Operator  FilterOperator `json:"operator,omitempty"`
	Values    []any          `json:"values,omitempty"`
	DateRange DateRangeSpec  `json:"dateRange,omitempty"`

	// Composite fields; exactly one of And/Or is non-nil for a
	// composite node, and both are nil for a leaf.
	And []FilterTree `json:"and,omitempty"`
	Or  []FilterTree `json:"or,omitempty"`
}

func (f FilterTree) IsLeaf() bool { return f.And == nil && f.Or == nil }

// Query is the standard query input from spec.md §3.
type Query struct {
	Measures       []string        `json:"measures,omitempty"`
	Dimensions     []string        `json:"dimensions,omitempty"`
	TimeDimensions []TimeDimension `json:"timeDimensions,omitempty"`
	Filters        []FilterTree    `json:"filters,omitempty"`
	Order          []Order         `json:"order,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	Offset         int             `json:"offset,omitempty"`
	Cubes          []string        `json:"cubes,omitempty"` // explicit cube list, optional
}

// FunnelStep is one entry of ServerFunnelQuery.Funnel.Steps.
type FunnelStep struct {
	Name          string      `json:"name"`
	Filter        *FilterTree `json:"filter,omitempty"`
	Cube          string      `json:"cube,omitempty"`
	TimeToConvert string      `json:"timeToConvert,omitempty"` // ISO-8601 duration, optional per-step override
}

// FunnelSpec is the body of a ServerFunnelQuery, per spec.md §3/§4.F.
type FunnelSpec struct {
	BindingKey         string       `json:"bindingKey"`
	TimeDimension      string       `json:"timeDimension"`
	Steps              []FunnelStep `json:"steps"`
	TimeToConvert      string       `json:"timeToConvert,omitempty"` // ISO-8601 duration, default for all steps
	IncludeTimeMetrics bool         `json:"includeTimeMetrics,omitempty"`
}

type ServerFunnelQuery struct {
	Funnel FunnelSpec `json:"funnel"`
}

// JoinStrategy selects how Flow computes forward/backward steps.
type JoinStrategy string

const (
	JoinAuto    JoinStrategy = "auto"
	JoinLateral JoinStrategy = "lateral"
	JoinWindow  JoinStrategy = "window"
)

// FlowSpec is the body of a ServerFlowQuery, per spec.md §3/§4.F.
type FlowSpec struct {
	BindingKey     string       `json:"bindingKey"`
	TimeDimension  string       `json:"timeDimension"`
	EventDimension string       `json:"eventDimension"`
	StartingStep   FilterTree   `json:"startingStep"`
	StepsBefore    int          `json:"stepsBefore,omitempty"` // [0,5]
	StepsAfter     int          `json:"stepsAfter,omitempty"`  // [0,5]
	JoinStrategy   JoinStrategy `json:"joinStrategy,omitempty"`
}

type ServerFlowQuery struct {
	Flow FlowSpec `json:"flow"`
}

// RetentionType distinguishes classic vs rolling retention counting.
type RetentionType string

const (
	RetentionClassic RetentionType = "classic"
	RetentionRolling RetentionType = "rolling"
)

// RetentionSpec is the body of a ServerRetentionQuery, per spec.md §3/§4.F.
type RetentionSpec struct {
	TimeDimension       string        `json:"timeDimension"`
	BindingKey          string        `json:"bindingKey"`
	DateRange           DateRangeSpec `json:"dateRange"` // required
	Granularity         string        `json:"granularity"` // day | week | month
	Periods             int           `json:"periods"`      // 1-52
	RetentionType       RetentionType `json:"retentionType,omitempty"`
	CohortFilters       []FilterTree  `json:"cohortFilters,omitempty"`
	ActivityFilters     []FilterTree  `json:"activityFilters,omitempty"`
	BreakdownDimensions []string      `json:"breakdownDimensions,omitempty"`
}

type ServerRetentionQuery struct {
	Retention RetentionSpec `json:"retention"`
}
