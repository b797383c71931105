package model

import "time"

// Cycle status values.
const (
	CycleStatusInProgress = "in_progress"
	CycleStatusCompleted  = "completed"
	CycleStatusFailed     = "failed"
	CycleStatusAborted    = "aborted"
)

// CyclePhase is one completed step of a sterilization run.
type CyclePhase struct {
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completedAt"`
}

// SterilizationCycle is one autoclave run, keyed by facility and cycle id. A
// cycle without an EndTime is in progress.
type SterilizationCycle struct {
	FacilityID  string       `gorm:"primaryKey;size:64" json:"facilityId"`
	ID          string       `gorm:"primaryKey;size:64" json:"id"`
	CycleNumber string       `gorm:"size:64" json:"cycleNumber,omitempty"`
	StartTime   time.Time    `gorm:"not null;index" json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
	Operator    string       `gorm:"size:128;not null" json:"operator"`
	Tools       []string     `gorm:"serializer:json;type:text" json:"tools"`
	Phases      []CyclePhase `gorm:"serializer:json;type:text" json:"phases"`
	BatchID     *string      `gorm:"size:64" json:"batchId,omitempty"`
	Status      string       `gorm:"size:16;not null;default:in_progress" json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Closed reports whether the run has ended.
func (c *SterilizationCycle) Closed() bool {
	return c.EndTime != nil
}
