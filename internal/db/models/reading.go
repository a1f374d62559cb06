package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DataType identifies the kind of biometric signal a reading carries
type DataType string

const (
	DataTypeHeartRate    DataType = "heart_rate"
	DataTypeBloodOxygen  DataType = "blood_oxygen"
	DataTypeSystolicBP   DataType = "blood_pressure_systolic"
	DataTypeDiastolicBP  DataType = "blood_pressure_diastolic"
	DataTypeTemperature  DataType = "body_temperature"
	DataTypeGlucose      DataType = "blood_glucose"
	DataTypeRespiration  DataType = "respiratory_rate"
	DataTypeSteps        DataType = "steps"
	DataTypeWeight       DataType = "weight"
)

// KnownDataTypes lists every data type the ingestion gateway accepts
var KnownDataTypes = map[DataType]bool{
	DataTypeHeartRate:   true,
	DataTypeBloodOxygen: true,
	DataTypeSystolicBP:  true,
	DataTypeDiastolicBP: true,
	DataTypeTemperature: true,
	DataTypeGlucose:     true,
	DataTypeRespiration: true,
	DataTypeSteps:       true,
	DataTypeWeight:      true,
}

// Reading represents one timestamped biometric measurement from a device.
// Immutable once stored except for the Processed flag, which the evaluator
// sets exactly once.
type Reading struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_readings_user_type_time,priority:1" json:"user_id"`
	DataType  DataType  `gorm:"type:varchar(50);not null;index:idx_readings_user_type_time,priority:2" json:"data_type"`
	Value     float64   `gorm:"not null" json:"value"`
	Unit      string    `gorm:"type:varchar(20)" json:"unit"`
	Timestamp time.Time `gorm:"not null;index:idx_readings_user_type_time,priority:3,sort:desc" json:"timestamp"`
	Source    string    `gorm:"type:varchar(100)" json:"source"`
	Processed bool      `gorm:"default:false" json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the table name for Reading
func (Reading) TableName() string {
	return "readings"
}

// BeforeCreate assigns an id when the caller did not provide one
func (r *Reading) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
