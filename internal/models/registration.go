package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RegistrationStatus string

const (
	StatusPending       RegistrationStatus = "pending"
	StatusApproved      RegistrationStatus = "approved"
	StatusRejected      RegistrationStatus = "rejected"
	StatusNeedsRevision RegistrationStatus = "needs_revision"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []RegistrationStatus{StatusPending, StatusNeedsRevision, StatusApproved, StatusRejected}

// Final reports whether no further review action may change the status.
func (s RegistrationStatus) Final() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusNeedsRevision:
		return true
	}
	return false
}

// Documents maps a document kind (krs, health, transcript, photo) to its stored file reference.
type Documents map[string]string

type Registration struct {
	gorm.Model
	StudentID    uint                          `json:"student_id" gorm:"index"`
	Student      User                          `json:"student" gorm:"foreignKey:StudentID"`
	LocationID   *uint                         `json:"location_id"`
	Location     *Location                     `json:"location,omitempty"`
	FiscalYear   string                        `json:"fiscal_year" gorm:"size:9;index"`
	Status       RegistrationStatus            `json:"status" gorm:"size:20;index;default:pending"`
	ReviewedByID *uint                         `json:"reviewed_by_id"`
	ReviewedBy   *User                         `json:"reviewed_by,omitempty" gorm:"foreignKey:ReviewedByID"`
	ReviewedAt   *time.Time                    `json:"reviewed_at"`
	Documents    datatypes.JSONType[Documents] `json:"documents"`
	Logs         []RegistrationLog             `json:"logs,omitempty"`
}
