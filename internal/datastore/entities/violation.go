// Package entities defines the GORM models persisted by the datastore.
package entities

import "time"

// Stage is the lifecycle status of a violation.
type Stage string

const (
	StageNew          Stage = "new"
	StageAcknowledged Stage = "acknowledged"
	StageEscalated    Stage = "escalated"
	StageResolved     Stage = "resolved"
)

// OpenStages are the stages in which a violation still needs attention.
var OpenStages = []Stage{StageNew, StageAcknowledged, StageEscalated}

// IsOpen reports whether s is one of the open stages.
func (s Stage) IsOpen() bool {
	return s == StageNew || s == StageAcknowledged || s == StageEscalated
}

// Violation is one accepted alert, tracked until it is resolved.
// Stage is authoritative; Resolved is written alongside it for older readers.
type Violation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	Source        string     `gorm:"size:100;not null;index" json:"source"`
	EntityID      string     `gorm:"size:100;not null" json:"entity_id"`
	ViolationType string     `gorm:"size:50;not null" json:"violation_type"`
	AlertClass    string     `gorm:"size:20;not null" json:"alert_type"`
	Severity      string     `gorm:"size:20;not null" json:"severity"`
	Message       string     `gorm:"size:500;default:''" json:"message"`
	Confidence    float64    `gorm:"not null;default:0" json:"confidence"`
	BoundingBox   *string    `gorm:"type:text" json:"bbox,omitempty"`
	DedupKey      string     `gorm:"size:255;not null;index:idx_violations_dedup_stage,priority:1" json:"dedup_key"`
	Stage         Stage      `gorm:"size:20;not null;default:'new';index:idx_violations_dedup_stage,priority:2" json:"stage"`
	AssignedTo    *string    `gorm:"size:100" json:"assigned_to,omitempty"`
	DueAt         *time.Time `gorm:"index" json:"due_at,omitempty"`
	Resolved      bool       `gorm:"not null;default:false" json:"resolved"`
	LastUpdatedAt time.Time  `gorm:"not null" json:"last_updated_at"`
	Notes         string     `gorm:"type:text" json:"notes,omitempty"`
}

// TableName returns the table name for GORM.
func (Violation) TableName() string {
	return "violations"
}
