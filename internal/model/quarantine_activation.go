package model

import "time"

// QuarantineActivation is the committed consequence of a confirmed BI failure.
// The table is an append log; the newest row per facility is the current one.
type QuarantineActivation struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	FacilityID         string    `gorm:"size:64;not null;index:idx_activation_facility_time,priority:1" json:"facilityId"`
	BITestResultID     string    `gorm:"size:36;not null" json:"biTestResultId"`
	AffectedToolsCount int       `gorm:"not null" json:"affectedToolsCount"`
	AffectedBatchIDs   []string  `gorm:"serializer:json;type:text" json:"affectedBatchIds"`
	Operator           string    `gorm:"size:128;not null" json:"operator"`
	ActivatedAt        time.Time `gorm:"not null;index:idx_activation_facility_time,priority:2" json:"activatedAt"`
}
