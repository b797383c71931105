package quarantine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bi-compliance-backend/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func strPtr(s string) *string { return &s }

func passOn(id, operator string, at time.Time) model.BITestResult {
	return model.BITestResult{ID: id, Operator: operator, Date: at, Passed: true, Status: model.BITestPass}
}

func cycle(id string, start time.Time, operator string, tools ...string) model.SterilizationCycle {
	end := start.Add(time.Hour)
	return model.SterilizationCycle{
		ID:         id,
		FacilityID: "fac-1",
		StartTime:  start,
		EndTime:    &end,
		Operator:   operator,
		Tools:      tools,
		Status:     model.CycleStatusCompleted,
	}
}

func toolIDs(d *Data) []string {
	ids := make([]string, 0, len(d.AffectedTools))
	for _, t := range d.AffectedTools {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestCompute_ScenarioA(t *testing.T) {
	results := []model.BITestResult{passOn("r1", "A", day("2024-01-01"))}
	cycles := []model.SterilizationCycle{cycle("c1", day("2024-01-02"), "A", "T1", "T2")}

	d := Compute(results, cycles, nil, nil)

	require.NotNil(t, d.LastPassedDate)
	assert.True(t, d.LastPassedDate.Equal(day("2024-01-01")))
	assert.Equal(t, 1, d.TotalCyclesAffected)
	assert.Equal(t, 2, d.TotalToolsAffected)
	assert.Equal(t, []string{"T1", "T2"}, toolIDs(d))
	assert.False(t, d.HasCurrentCycleAffected)
}

func TestCompute_ScenarioB_ExcludesCyclesBeforePass(t *testing.T) {
	results := []model.BITestResult{passOn("r1", "A", day("2024-01-01"))}
	cycles := []model.SterilizationCycle{
		cycle("c0", day("2023-12-31"), "A", "T3"),
		cycle("c1", day("2024-01-02"), "A", "T1", "T2"),
	}

	d := Compute(results, cycles, nil, nil)

	assert.Equal(t, 1, d.TotalCyclesAffected)
	assert.Equal(t, "c1", d.AffectedCycles[0].ID)
	assert.Equal(t, 2, d.TotalToolsAffected)
	assert.NotContains(t, toolIDs(d), "T3")
}

func TestCompute_NoHistoryQuarantinesEverything(t *testing.T) {
	cycles := []model.SterilizationCycle{
		cycle("c1", day("2020-01-01"), "A", "T1"),
		cycle("c2", day("2021-06-01"), "B", "T2"),
		cycle("c3", day("2024-03-01"), "C", "T3"),
	}
	current := model.SterilizationCycle{ID: "c4", StartTime: day("2024-03-02"), Operator: "A", Tools: []string{"T4"}}

	d := Compute(nil, cycles, &current, nil)

	assert.Nil(t, d.LastPassedDate)
	assert.Equal(t, 4, d.TotalCyclesAffected)
	assert.Equal(t, 4, d.TotalToolsAffected)
	assert.True(t, d.HasCurrentCycleAffected)
	assert.Equal(t, []string{"A", "B", "C"}, d.UniqueOperators)
	require.NotNil(t, d.DateRange)
	assert.True(t, d.DateRange.Start.Equal(day("2020-01-01")))
	assert.True(t, d.DateRange.End.Equal(day("2024-03-02")))
}

func TestCompute_FailedAndSkippedResultsAreNotABaseline(t *testing.T) {
	results := []model.BITestResult{
		{ID: "r1", Date: day("2024-01-05"), Status: model.BITestFail},
		{ID: "r2", Date: day("2024-01-06"), Status: model.BITestSkip},
	}
	cycles := []model.SterilizationCycle{cycle("c1", day("2024-01-01"), "A", "T1")}

	d := Compute(results, cycles, nil, nil)

	assert.Nil(t, d.LastPassedDate)
	assert.Equal(t, 1, d.TotalCyclesAffected)
}

func TestCompute_PassWithNoCycles(t *testing.T) {
	results := []model.BITestResult{passOn("r1", "A", day("2024-01-01"))}

	d := Compute(results, nil, nil, nil)

	require.NotNil(t, d.LastPassedDate)
	assert.Equal(t, 0, d.TotalCyclesAffected)
	assert.Equal(t, 0, d.TotalToolsAffected)
	assert.Nil(t, d.DateRange)
	assert.Empty(t, d.AffectedCycles)
	assert.Empty(t, d.UniqueOperators)
	assert.Empty(t, d.ToolsByCategory)
	assert.False(t, d.HasCurrentCycleAffected)
}

func TestCompute_BoundaryIsExclusive(t *testing.T) {
	passAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	results := []model.BITestResult{passOn("r1", "A", passAt)}

	t.Run("cycle starting at the pass is safe", func(t *testing.T) {
		d := Compute(results, []model.SterilizationCycle{cycle("c1", passAt, "A", "T1")}, nil, nil)
		assert.Equal(t, 0, d.TotalCyclesAffected)
	})

	t.Run("cycle starting one nanosecond later is affected", func(t *testing.T) {
		d := Compute(results, []model.SterilizationCycle{cycle("c1", passAt.Add(time.Nanosecond), "A", "T1")}, nil, nil)
		assert.Equal(t, 1, d.TotalCyclesAffected)
	})

	t.Run("current cycle starting at the pass is not affected", func(t *testing.T) {
		current := model.SterilizationCycle{ID: "live", StartTime: passAt, Operator: "A", Tools: []string{"T9"}}
		d := Compute(results, nil, &current, nil)
		assert.False(t, d.HasCurrentCycleAffected)
		assert.Equal(t, 0, d.TotalCyclesAffected)
	})

	t.Run("current cycle after the pass is affected", func(t *testing.T) {
		current := model.SterilizationCycle{ID: "live", StartTime: passAt.Add(time.Minute), Operator: "A", Tools: []string{"T9"}}
		d := Compute(results, nil, &current, nil)
		assert.True(t, d.HasCurrentCycleAffected)
		assert.Equal(t, []string{"T9"}, toolIDs(d))
	})
}

func TestCompute_UsesLatestPass(t *testing.T) {
	results := []model.BITestResult{
		passOn("r1", "A", day("2024-01-01")),
		passOn("r3", "A", day("2024-01-03")),
		passOn("r2", "B", day("2024-01-02")),
	}
	cycles := []model.SterilizationCycle{
		cycle("c1", day("2024-01-02").Add(time.Hour), "A", "T1"),
		cycle("c2", day("2024-01-03").Add(time.Hour), "A", "T2"),
	}

	d := Compute(results, cycles, nil, nil)

	assert.True(t, d.LastPassedDate.Equal(day("2024-01-03")))
	assert.Equal(t, []string{"T2"}, toolIDs(d))
}

func TestCompute_EmptyToolLists(t *testing.T) {
	cycles := []model.SterilizationCycle{
		cycle("c1", day("2024-01-02"), "A"),
		cycle("c2", day("2024-01-03"), "B"),
	}

	d := Compute(nil, cycles, nil, nil)

	assert.Equal(t, 2, d.TotalCyclesAffected)
	assert.Equal(t, 0, d.TotalToolsAffected)
	assert.Empty(t, d.ToolsByCategory)
}

func TestCompute_DeduplicatesTools(t *testing.T) {
	roster := []model.Tool{{ID: "T1", Name: "Scalpel", Category: "Cutting"}}
	cycles := []model.SterilizationCycle{
		cycle("c1", day("2024-01-02"), "A", "T1"),
		cycle("c2", day("2024-01-03"), "A", "T1", "T2"),
		cycle("c3", day("2024-01-04"), "B", "T1"),
	}

	d := Compute(nil, cycles, nil, roster)

	assert.Equal(t, 2, d.TotalToolsAffected)
	assert.Equal(t, map[string]int{"Cutting": 1, model.UnknownCategory: 1}, d.ToolsByCategory)
	assert.Equal(t, []string{"A", "B"}, d.UniqueOperators)
}

func TestCompute_PlaceholderForMissingRosterEntry(t *testing.T) {
	roster := []model.Tool{
		{ID: "T1", Name: "Forceps", Category: "Grasping"},
		{ID: "T2", Name: "Retractor"},
	}
	cycles := []model.SterilizationCycle{cycle("c1", day("2024-01-02"), "A", "T1", "T2", "T404")}

	d := Compute(nil, cycles, nil, roster)

	require.Len(t, d.AffectedTools, 3)
	assert.Equal(t, OriginRoster, d.AffectedTools[0].Origin)
	assert.False(t, d.AffectedTools[1].Placeholder())
	assert.Equal(t, "", d.AffectedTools[1].Category)

	missing := d.AffectedTools[2]
	assert.True(t, missing.Placeholder())
	assert.Equal(t, "Tool T404", missing.Name)
	assert.Equal(t, model.UnknownCategory, missing.Category)
	assert.Equal(t, "fac-1", missing.FacilityID)

	assert.Equal(t, map[string]int{"Grasping": 1, model.UnknownCategory: 2}, d.ToolsByCategory)
}

func TestCompute_IsIdempotent(t *testing.T) {
	results := []model.BITestResult{passOn("r1", "A", day("2024-01-01"))}
	cycles := []model.SterilizationCycle{
		cycle("c1", day("2024-01-02"), "A", "T1", "T2"),
		cycle("c2", day("2024-01-03"), "B", "T2", "T3"),
	}
	current := model.SterilizationCycle{ID: "live", StartTime: day("2024-01-04"), Operator: "C", Tools: []string{"T4"}}
	roster := []model.Tool{{ID: "T1", Category: "Cutting"}, {ID: "T3", Category: "Clamping"}}

	first, err := json.Marshal(Compute(results, cycles, &current, roster))
	require.NoError(t, err)
	second, err := json.Marshal(Compute(results, cycles, &current, roster))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, cycles, 2, "inputs must not be modified")
}

func TestData_AffectedBatchIDs(t *testing.T) {
	withBatch := func(c model.SterilizationCycle, batch *string) model.SterilizationCycle {
		c.BatchID = batch
		return c
	}
	cycles := []model.SterilizationCycle{
		withBatch(cycle("c0", day("2023-12-30"), "A", "T0"), strPtr("B-OLD")),
		withBatch(cycle("c1", day("2024-01-02"), "A", "T1"), strPtr("B-1")),
		withBatch(cycle("c2", day("2024-01-03"), "A", "T2"), nil),
		withBatch(cycle("c3", day("2024-01-04"), "A", "T3"), strPtr("B-1")),
		withBatch(cycle("c4", day("2024-01-05"), "A", "T4"), strPtr("")),
		withBatch(cycle("c5", day("2024-01-06"), "A", "T5"), strPtr("B-2")),
	}
	results := []model.BITestResult{passOn("r1", "A", day("2024-01-01"))}

	d := Compute(results, cycles, nil, nil)

	assert.Equal(t, []string{"B-1", "B-2"}, d.AffectedBatchIDs())
}
