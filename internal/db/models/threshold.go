package models

import "time"

// Severity classifies how urgent a breach is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the known severity levels
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Threshold is a user-configured min/max band for a reading type. Owned by
// an external configuration collaborator; read-only to this engine. A nil
// bound means that side is unchecked.
type Threshold struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_thresholds_user_type,priority:1" json:"user_id"`
	DataType  DataType  `gorm:"type:varchar(50);not null;index:idx_thresholds_user_type,priority:2" json:"data_type"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Severity  Severity  `gorm:"type:varchar(20);not null" json:"severity"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name for Threshold
func (Threshold) TableName() string {
	return "thresholds"
}

// Breached reports whether value falls outside the configured band
func (t *Threshold) Breached(value float64) bool {
	if t.Min != nil && value < *t.Min {
		return true
	}
	if t.Max != nil && value > *t.Max {
		return true
	}
	return false
}
