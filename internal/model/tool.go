package model

import "time"

// UnknownCategory is used for tools with no category on record.
const UnknownCategory = "Unknown"

// Tool is a trackable surgical instrument in a facility's roster. Tool ids are
// only unique within a facility.
type Tool struct {
	FacilityID     string     `gorm:"primaryKey;size:64" json:"facilityId"`
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	Name           string     `gorm:"size:256;not null" json:"name"`
	Barcode        string     `gorm:"size:128;index" json:"barcode"`
	Category       string     `gorm:"size:64" json:"category"`
	CycleCount     int        `gorm:"not null;default:0" json:"cycleCount"`
	MaxCycles      int        `json:"maxCycles"`
	Status         string     `gorm:"size:32" json:"status"`
	LastSterilized *time.Time `json:"lastSterilized,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
