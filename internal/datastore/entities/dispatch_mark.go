package entities

import "time"

// DispatchMark records the last dispatch for one (user, rule, parameter) key.
// LastDispatchAt is stored as unix nanoseconds so the stale check is a plain
// integer comparison on every backend.
type DispatchMark struct {
	UserID         string `gorm:"primaryKey;size:128"`
	RuleID         string `gorm:"primaryKey;size:36"`
	Parameter      string `gorm:"primaryKey;size:50"`
	LastDispatchAt int64  `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (DispatchMark) TableName() string {
	return "dispatch_marks"
}

// LastDispatch returns the mark as a time.Time.
func (m *DispatchMark) LastDispatch() time.Time {
	return time.Unix(0, m.LastDispatchAt)
}
