package model

import "time"

// BITestStatus is the operator's selection for a daily biological indicator test.
type BITestStatus string

const (
	BITestPass BITestStatus = "pass"
	BITestFail BITestStatus = "fail"
	BITestSkip BITestStatus = "skip"
)

// Valid reports whether s is one of the recognized statuses.
func (s BITestStatus) Valid() bool {
	switch s {
	case BITestPass, BITestFail, BITestSkip:
		return true
	}
	return false
}

// BITestResult is one committed daily BI test. Rows are never updated or deleted.
type BITestResult struct {
	ID         string       `gorm:"primaryKey;size:36" json:"id"`
	FacilityID string       `gorm:"size:64;not null;uniqueIndex:idx_bi_result_operator_day,priority:1" json:"facilityId"`
	ToolID     string       `gorm:"size:64" json:"toolId"`
	Passed     bool         `gorm:"not null" json:"passed"`
	Status     BITestStatus `gorm:"size:8;not null" json:"status"`
	Operator   string       `gorm:"size:128;not null;uniqueIndex:idx_bi_result_operator_day,priority:2" json:"operator"`
	Date       time.Time    `gorm:"not null;index" json:"date"`
	// TestDay is the facility-local calendar date (YYYY-MM-DD) of Date.
	TestDay   string    `gorm:"size:10;not null;uniqueIndex:idx_bi_result_operator_day,priority:3" json:"testDay"`
	CreatedAt time.Time `json:"createdAt"`
}
