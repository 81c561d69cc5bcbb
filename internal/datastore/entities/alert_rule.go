// Package entities holds the gorm models persisted by agrialert.
package entities

import (
	"time"

	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// AlertRule is a user-defined threshold on one sensor parameter.
// An empty DeviceID applies the rule to every device the user owns.
type AlertRule struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	UserID     string           `gorm:"size:128;not null;index:idx_alert_rules_user_active,priority:1" json:"userId"`
	DeviceID   string           `gorm:"size:128;not null;default:''" json:"deviceId"`
	Parameter  sensor.Parameter `gorm:"size:50;not null" json:"parameter"`
	Comparison string           `gorm:"size:2;not null" json:"comparison"`
	Threshold  float64          `gorm:"not null" json:"threshold"`
	Critical   bool             `gorm:"not null;default:false" json:"critical"`
	Active     bool             `gorm:"not null;index:idx_alert_rules_user_active,priority:2" json:"active"`
	Contact    Contact          `gorm:"embedded;embeddedPrefix:contact_" json:"contact"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Contact is where a triggered rule's notification goes.
type Contact struct {
	Type  string `gorm:"size:10;not null" json:"type"`
	Value string `gorm:"size:255;not null" json:"value"`
}

// TableName returns the table name for GORM.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// AppliesTo reports whether the rule is scoped to deviceID.
func (r *AlertRule) AppliesTo(deviceID string) bool {
	return r.DeviceID == "" || r.DeviceID == deviceID
}
