package entities

import "time"

// Action names recorded in the audit log.
const (
	ActionResolve     = "resolve"
	ActionEscalate    = "escalate"
	ActionAcknowledge = "acknowledge"
	ActionAssign      = "assign"
)

// AlertAction is an append-only audit entry for a violation.
type AlertAction struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ViolationID   uint       `gorm:"not null;index" json:"violation_id"`
	Action        string     `gorm:"size:20;not null" json:"action"`
	Notes         string     `gorm:"type:text" json:"notes"`
	Actor         *string    `gorm:"size:100" json:"actor"`
	Level         *string    `gorm:"size:50" json:"level"`
	AutoGenerated bool       `gorm:"not null;default:false" json:"auto_generated"`
	Evidence      *string    `gorm:"size:500" json:"evidence"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	Violation     *Violation `gorm:"foreignKey:ViolationID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (AlertAction) TableName() string {
	return "alert_actions"
}
