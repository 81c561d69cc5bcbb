package entities

import (
	"time"

	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// Triggered alert delivery outcomes.
const (
	TriggeredStatusSent   = "sent"
	TriggeredStatusFailed = "failed"
)

// TriggeredAlert is the audit record for one dispatched notification.
// AlertID refers back to the rule but the record outlives it.
type TriggeredAlert struct {
	ID           string           `gorm:"primaryKey;size:36" json:"id"`
	UserID       string           `gorm:"size:128;not null;index:idx_triggered_user_time,priority:1" json:"userId"`
	AlertID      string           `gorm:"size:36;not null;index" json:"alertId"`
	Parameter    sensor.Parameter `gorm:"size:50;not null" json:"parameter"`
	Comparison   string           `gorm:"size:2;not null" json:"comparison"`
	Threshold    float64          `gorm:"not null" json:"threshold"`
	CurrentValue float64          `gorm:"not null" json:"currentValue"`
	Critical     bool             `gorm:"not null;default:false" json:"critical"`
	DeviceID     string           `gorm:"size:128;not null;default:''" json:"deviceId"`
	TriggeredAt  time.Time        `gorm:"not null;index:idx_triggered_user_time,priority:2;index" json:"triggeredAt"`
	Status       string           `gorm:"size:10;not null" json:"status"`
	Error        string           `gorm:"size:1000;default:''" json:"error,omitempty"`
	Attempts     int              `gorm:"not null;default:0" json:"attempts"`
	Test         bool             `gorm:"not null;default:false" json:"test,omitempty"`
}

// TableName returns the table name for GORM.
func (TriggeredAlert) TableName() string {
	return "triggered_alerts"
}
