package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k0kubun/semlayer/cube"
	"github.com/k0kubun/semlayer/dialect/postgres"
	"github.com/k0kubun/semlayer/query"
)

func eventsRegistry(t *testing.T) *cube.Registry {
	t.Helper()
	r := cube.New()

	err := r.Register(cube.Cube{
		Name: "Events",
		SQLSource: func(qctx cube.QueryContext) (cube.BaseQuery, error) {
			return cube.BaseQuery{
				Table: "events",
				Where: "events.organisation_id = '" + qctx.Security.OrganisationID + "'",
			}, nil
		},
		Dimensions: map[string]cube.Dimension{
			"userId":    {Name: "userId", Type: cube.DimString, SQL: "events.user_id"},
			"eventType": {Name: "eventType", Type: cube.DimString, SQL: "events.event_type"},
			"occurredAt": {Name: "occurredAt", Type: cube.DimTime, SQL: "events.occurred_at"},
			"country":   {Name: "country", Type: cube.DimString, SQL: "events.country"},
		},
		Measures: map[string]cube.Measure{
			"count": {Name: "count", Type: cube.MeasureCount},
		},
	})
	require.NoError(t, err)

	return r
}

func eventsQctx() cube.QueryContext {
	return cube.QueryContext{Security: cube.SecurityContext{OrganisationID: "acme"}}
}

func TestFunnelBuildsDualChainCTEs(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	built, err := c.Funnel(eventsQctx(), query.FunnelSpec{
		BindingKey:    "Events.userId",
		TimeDimension: "Events.occurredAt",
		TimeToConvert: "P1D",
		Steps: []query.FunnelStep{
			{Name: "view", Filter: &query.FilterTree{Member: "Events.eventType", Operator: query.OpEquals, Values: []any{"view"}}},
			{Name: "click", Filter: &query.FilterTree{Member: "Events.eventType", Operator: query.OpEquals, Values: []any{"click"}}},
			{Name: "purchase", Filter: &query.FilterTree{Member: "Events.eventType", Operator: query.OpEquals, Values: []any{"purchase"}}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, `"entered_0"`)
	assert.Contains(t, built.SQL, `"converted_0"`)
	assert.Contains(t, built.SQL, `"entered_2"`)
	assert.Contains(t, built.SQL, `"converted_2"`)
	// entered_i has no time-window bound, converted_i does; cur is
	// requalified to the step table's JOIN alias, not the bare table name.
	assert.Contains(t, built.SQL, `cur.occurred_at > p.step_time`)
	assert.Contains(t, built.SQL, `cur.occurred_at <= (p.step_time + INTERVAL`)
	assert.NotContains(t, built.SQL, `cur.events.`)
	assert.Contains(t, built.SQL, "UNION ALL")
	// step_name is bound as a parameter, not emitted as a quoted
	// identifier (which would reference a non-existent column).
	assert.Contains(t, built.Params, "view")
	assert.Contains(t, built.Params, "purchase")
}

func TestFunnelRequiresAtLeastOneStep(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	_, err := c.Funnel(eventsQctx(), query.FunnelSpec{
		BindingKey:    "Events.userId",
		TimeDimension: "Events.occurredAt",
	})
	require.Error(t, err)
}

func TestFlowDefaultsToLateralOnPostgres(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	built, err := c.Flow(eventsQctx(), query.FlowSpec{
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.occurredAt",
		EventDimension: "Events.eventType",
		StartingStep:   query.FilterTree{Member: "Events.eventType", Operator: query.OpEquals, Values: []any{"signup"}},
		StepsBefore:    0,
		StepsAfter:     1,
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, "LATERAL")
	assert.Contains(t, built.SQL, "nxt.event")
	assert.NotContains(t, built.SQL, "nxt.events.event_type")
}

func TestFlowWindowStrategyUsesLagLead(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	built, err := c.Flow(eventsQctx(), query.FlowSpec{
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.occurredAt",
		EventDimension: "Events.eventType",
		StartingStep:   query.FilterTree{Member: "Events.eventType", Operator: query.OpEquals, Values: []any{"signup"}},
		StepsBefore:    1,
		StepsAfter:     1,
		JoinStrategy:   query.JoinWindow,
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, "LAG(events.event_type, 1)")
	assert.Contains(t, built.SQL, "LEAD(events.event_type, 1)")
	assert.NotContains(t, built.SQL, "LATERAL")
}

func TestFlowRejectsOutOfRangeSteps(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	_, err := c.Flow(eventsQctx(), query.FlowSpec{
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.occurredAt",
		EventDimension: "Events.eventType",
		StartingStep:   query.FilterTree{Member: "Events.eventType", Operator: query.OpEquals, Values: []any{"signup"}},
		StepsBefore:    6,
	})
	require.Error(t, err)
}

func TestRetentionBuildsCohortAndActivityCTEs(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	built, err := c.Retention(eventsQctx(), query.RetentionSpec{
		BindingKey:    "Events.userId",
		TimeDimension: "Events.occurredAt",
		DateRange:     query.DateRangeSpec{Start: "2026-01-01", End: "2026-02-01"},
		Granularity:   "week",
		Periods:       4,
		RetentionType: query.RetentionClassic,
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, `"cohort"`)
	assert.Contains(t, built.SQL, `"activity"`)
	assert.Contains(t, built.SQL, "DATE_TRUNC('week', events.occurred_at)")
	assert.Contains(t, built.SQL, "INTERVAL '0 years 0 months 21 days 0 hours 0 minutes 0 seconds'")
	assert.Contains(t, built.SQL, "UNION ALL")
	assert.Contains(t, built.SQL, "AS retention_rate")
	assert.Contains(t, built.SQL, "CASE WHEN COUNT(DISTINCT c.binding_key) = 0 THEN NULL ELSE")
	assert.Len(t, built.Params, 2)
}

func TestRetentionRollingUsesGreaterThanEqual(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	built, err := c.Retention(eventsQctx(), query.RetentionSpec{
		BindingKey:    "Events.userId",
		TimeDimension: "Events.occurredAt",
		DateRange:     query.DateRangeSpec{Start: "2026-01-01", End: "2026-02-01"},
		Granularity:   "day",
		Periods:       2,
		RetentionType: query.RetentionRolling,
	})
	require.NoError(t, err)

	assert.Contains(t, built.SQL, "a.activity_period >= ")
}

func TestRetentionRejectsPeriodsOutOfRange(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	_, err := c.Retention(eventsQctx(), query.RetentionSpec{
		BindingKey:    "Events.userId",
		TimeDimension: "Events.occurredAt",
		DateRange:     query.DateRangeSpec{Start: "2026-01-01", End: "2026-02-01"},
		Granularity:   "day",
		Periods:       53,
	})
	require.Error(t, err)
}

func TestRetentionRequiresDateRange(t *testing.T) {
	r := eventsRegistry(t)
	c := New(r, postgres.New())

	_, err := c.Retention(eventsQctx(), query.RetentionSpec{
		BindingKey:    "Events.userId",
		TimeDimension: "Events.occurredAt",
		Granularity:   "day",
		Periods:       4,
	})
	require.Error(t, err)
}
