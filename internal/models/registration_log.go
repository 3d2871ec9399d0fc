package models

import (
	"time"

	"gorm.io/datatypes"
)

type LogAction string

const (
	ActionApproved         LogAction = "approved"
	ActionRejected         LogAction = "rejected"
	ActionNeedsRevision    LogAction = "needs_revision"
	ActionComment          LogAction = "comment"
	ActionDocumentUploaded LogAction = "document_uploaded"
)

// RegistrationLog is an append-only audit entry. Rows are inserted in the same
// transaction as the registration change they describe and never updated.
type RegistrationLog struct {
	ID             uint               `json:"id" gorm:"primaryKey"`
	RegistrationID uint               `json:"registration_id" gorm:"index;not null"`
	ActorID        uint               `json:"actor_id" gorm:"not null"`
	Actor          User               `json:"actor" gorm:"foreignKey:ActorID"`
	Action         LogAction          `json:"action" gorm:"size:32;not null"`
	OldStatus      RegistrationStatus `json:"old_status" gorm:"size:20"`
	NewStatus      RegistrationStatus `json:"new_status" gorm:"size:20"`
	Note           string             `json:"note" gorm:"type:text"`
	Metadata       datatypes.JSONMap  `json:"metadata" gorm:"type:json"`
	CreatedAt      time.Time          `json:"created_at"`
}
