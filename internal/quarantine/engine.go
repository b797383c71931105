// Package quarantine determines which sterilization cycles and tools are
// invalidated by a failed biological indicator test.
package quarantine

import (
	"fmt"
	"time"

	"bi-compliance-backend/internal/model"
)

// ToolOrigin tells whether an affected tool came from the roster or was inferred
// from a cycle that references an id the roster does not know.
type ToolOrigin string

const (
	OriginRoster      ToolOrigin = "roster"
	OriginPlaceholder ToolOrigin = "placeholder"
)

// AffectedTool is a tool in quarantine scope.
type AffectedTool struct {
	model.Tool
	Origin ToolOrigin `json:"origin"`
}

// Placeholder reports whether the tool was synthesized from a missing roster entry.
func (t AffectedTool) Placeholder() bool {
	return t.Origin == OriginPlaceholder
}

// DateRange spans the start times of the affected cycles.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Data is the quarantine snapshot for one facility. Values handed out by
// Service may be shared between callers and must not be modified.
type Data struct {
	LastPassedDate          *time.Time                 `json:"lastPassedDate"`
	AffectedCycles          []model.SterilizationCycle `json:"affectedCycles"`
	AffectedTools           []AffectedTool             `json:"affectedTools"`
	TotalToolsAffected      int                        `json:"totalToolsAffected"`
	TotalCyclesAffected     int                        `json:"totalCyclesAffected"`
	UniqueOperators         []string                   `json:"uniqueOperators"`
	DateRange               *DateRange                 `json:"dateRange"`
	ToolsByCategory         map[string]int             `json:"toolsByCategory"`
	HasCurrentCycleAffected bool                       `json:"hasCurrentCycleAffected"`
}

// AffectedBatchIDs returns the distinct, non-empty batch ids of the affected
// cycles in cycle order.
func (d *Data) AffectedBatchIDs() []string {
	ids := make([]string, 0)
	seen := make(map[string]struct{})
	for _, c := range d.AffectedCycles {
		if c.BatchID == nil || *c.BatchID == "" {
			continue
		}
		if _, ok := seen[*c.BatchID]; ok {
			continue
		}
		seen[*c.BatchID] = struct{}{}
		ids = append(ids, *c.BatchID)
	}
	return ids
}

// Compute derives the quarantine snapshot from a facility's test results,
// cycle history, optional in-progress cycle and tool roster. It has no side
// effects and the same inputs always give the same output.
func Compute(results []model.BITestResult, cycles []model.SterilizationCycle, current *model.SterilizationCycle, roster []model.Tool) *Data {
	lastPassed := lastPassedDate(results)

	all := cycles
	if current != nil {
		all = make([]model.SterilizationCycle, 0, len(cycles)+1)
		all = append(all, cycles...)
		all = append(all, *current)
	}

	d := &Data{
		LastPassedDate:  lastPassed,
		AffectedCycles:  make([]model.SterilizationCycle, 0),
		AffectedTools:   make([]AffectedTool, 0),
		UniqueOperators: make([]string, 0),
		ToolsByCategory: make(map[string]int),
	}
	for _, c := range all {
		if affected(c.StartTime, lastPassed) {
			d.AffectedCycles = append(d.AffectedCycles, c)
		}
	}

	byID := make(map[string]model.Tool, len(roster))
	for _, t := range roster {
		byID[t.ID] = t
	}

	seenTools := make(map[string]struct{})
	seenOperators := make(map[string]struct{})
	for i, c := range d.AffectedCycles {
		for _, id := range c.Tools {
			if _, ok := seenTools[id]; ok {
				continue
			}
			seenTools[id] = struct{}{}
			d.AffectedTools = append(d.AffectedTools, resolveTool(id, c.FacilityID, byID))
		}

		if _, ok := seenOperators[c.Operator]; !ok {
			seenOperators[c.Operator] = struct{}{}
			d.UniqueOperators = append(d.UniqueOperators, c.Operator)
		}

		if i == 0 {
			d.DateRange = &DateRange{Start: c.StartTime, End: c.StartTime}
			continue
		}
		if c.StartTime.Before(d.DateRange.Start) {
			d.DateRange.Start = c.StartTime
		}
		if c.StartTime.After(d.DateRange.End) {
			d.DateRange.End = c.StartTime
		}
	}

	for _, t := range d.AffectedTools {
		category := t.Category
		if category == "" {
			category = model.UnknownCategory
		}
		d.ToolsByCategory[category]++
	}

	d.TotalToolsAffected = len(d.AffectedTools)
	d.TotalCyclesAffected = len(d.AffectedCycles)
	d.HasCurrentCycleAffected = current != nil && affected(current.StartTime, lastPassed)
	return d
}

// lastPassedDate returns the date of the newest passing result, or nil when
// there is no passing result. Equal dates are settled by the larger id.
func lastPassedDate(results []model.BITestResult) *time.Time {
	var last *model.BITestResult
	for i := range results {
		r := &results[i]
		if !r.Passed {
			continue
		}
		if last == nil || r.Date.After(last.Date) || (r.Date.Equal(last.Date) && r.ID > last.ID) {
			last = r
		}
	}
	if last == nil {
		return nil
	}
	date := last.Date
	return &date
}

// affected applies the strict boundary: a cycle that started at or before the
// last pass is presumed safe.
func affected(start time.Time, lastPassed *time.Time) bool {
	return lastPassed == nil || start.After(*lastPassed)
}

func resolveTool(id, facilityID string, roster map[string]model.Tool) AffectedTool {
	if t, ok := roster[id]; ok {
		return AffectedTool{Tool: t, Origin: OriginRoster}
	}
	return AffectedTool{
		Tool: model.Tool{
			ID:         id,
			FacilityID: facilityID,
			Name:       fmt.Sprintf("Tool %s", id),
			Category:   model.UnknownCategory,
		},
		Origin: OriginPlaceholder,
	}
}
