package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertType identifies the condition class that raised an alert
type AlertType string

const (
	AlertTypeThresholdBreach   AlertType = "threshold_breach"
	AlertTypeAnomalyDetected   AlertType = "anomaly_detected"
	AlertTypePanic             AlertType = "panic"
	AlertTypeDeviceMalfunction AlertType = "device_malfunction"
)

// AlertStatus is the alert lifecycle state. Transitions only move forward:
// pending -> sent -> acknowledged -> resolved, or pending/sent -> resolved
// directly. Resolved is terminal.
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusSent         AlertStatus = "sent"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

var statusRank = map[AlertStatus]int{
	AlertStatusPending:      0,
	AlertStatusSent:         1,
	AlertStatusAcknowledged: 2,
	AlertStatusResolved:     3,
}

// CanTransition reports whether moving from into to is a forward transition
func (from AlertStatus) CanTransition(to AlertStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// ReadingSnapshot captures the reading state embedded in an alert at the
// time the condition fired (or last re-fired, for deduplicated alerts).
type ReadingSnapshot struct {
	ReadingID string    `json:"reading_id"`
	DataType  DataType  `json:"data_type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Mean      float64   `json:"mean,omitempty"`
	StdDev    float64   `json:"std_dev,omitempty"`
}

// Alert is a persisted, stateful record of a detected health condition.
// One alert aggregates exactly one triggering condition instance: repeated
// breaches of the same condition while the alert is open update the
// snapshot in place instead of spawning duplicates.
type Alert struct {
	ID               string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID           string          `gorm:"type:varchar(64);not null;index:idx_alerts_user_status,priority:1" json:"user_id"`
	Type             AlertType       `gorm:"type:varchar(50);not null" json:"type"`
	Severity         Severity        `gorm:"type:varchar(20);not null" json:"severity"`
	Title            string          `gorm:"type:varchar(255)" json:"title"`
	Message          string          `json:"message"`
	ConditionKey     string          `gorm:"type:varchar(120);not null;index" json:"condition_key"`
	DataSnapshot     ReadingSnapshot `gorm:"serializer:json" json:"data_snapshot"`
	Status           AlertStatus     `gorm:"type:varchar(20);not null;default:'pending';index:idx_alerts_user_status,priority:2" json:"status"`
	ContactsNotified []string        `gorm:"serializer:json" json:"contacts_notified"`
	Responses        []Response      `gorm:"foreignKey:AlertID" json:"responses"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	AutoResolved     *bool           `json:"auto_resolved,omitempty"`
}

// TableName overrides the table name for Alert
func (Alert) TableName() string {
	return "alerts"
}

// BeforeCreate assigns an id when the caller did not provide one
func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Open reports whether the alert has not reached its terminal state
func (a *Alert) Open() bool {
	return a.Status != AlertStatusResolved
}

// ThresholdConditionKey builds the dedup key for a threshold breach
func ThresholdConditionKey(thresholdID uint) string {
	return fmt.Sprintf("threshold:%d", thresholdID)
}

// AnomalyConditionKey builds the dedup key for a statistical anomaly
func AnomalyConditionKey(dataType DataType) string {
	return fmt.Sprintf("anomaly:%s", dataType)
}

// ResponseType classifies a contact's reply to an alert
type ResponseType string

const (
	ResponseAcknowledged      ResponseType = "acknowledged"
	ResponseOnWay             ResponseType = "on_way"
	ResponseContactedServices ResponseType = "contacted_emergency_services"
	ResponseFalseAlarm        ResponseType = "false_alarm"
	ResponseNeedMoreInfo      ResponseType = "need_more_info"
)

// ValidResponseType reports whether t is one of the known response types
func ValidResponseType(t ResponseType) bool {
	switch t {
	case ResponseAcknowledged, ResponseOnWay, ResponseContactedServices,
		ResponseFalseAlarm, ResponseNeedMoreInfo:
		return true
	}
	return false
}

// Response is one contact's reply to an alert; the list is append-only
type Response struct {
	ID        string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	AlertID   string       `gorm:"type:varchar(36);not null;index" json:"alert_id"`
	ContactID uint         `gorm:"not null" json:"contact_id"`
	Type      ResponseType `gorm:"type:varchar(40);not null" json:"type"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `gorm:"not null" json:"timestamp"`
}

// TableName overrides the table name for Response
func (Response) TableName() string {
	return "alert_responses"
}

// BeforeCreate assigns an id when the caller did not provide one
func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
