// Package repository provides gorm-backed persistence for alert rules,
// triggered alerts and debounce marks.
package repository

import (
	"context"
	"time"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/errors"
)

var (
	// ErrAlertRuleNotFound is returned when a rule does not exist or belongs
	// to another user.
	ErrAlertRuleNotFound = errors.NewStd("alert rule not found")
	// ErrDispatchMarkNotFound is returned when no dispatch was ever recorded
	// for a key.
	ErrDispatchMarkNotFound = errors.NewStd("dispatch mark not found")
)

// AlertRuleRepository handles alert rule CRUD and the triggered-alert log.
// Every rule operation is scoped to a user.
type AlertRuleRepository interface {
	// Rule CRUD
	ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, userID, id string) (*entities.AlertRule, error)
	CreateRule(ctx context.Context, rule *entities.AlertRule) error
	CreateRules(ctx context.Context, rules []*entities.AlertRule) error
	UpdateRule(ctx context.Context, rule *entities.AlertRule) error
	DeleteRule(ctx context.Context, userID, id string) error
	ToggleRule(ctx context.Context, userID, id string, active bool) error

	// Triggered log
	SaveTriggered(ctx context.Context, rec *entities.TriggeredAlert) error
	ListTriggered(ctx context.Context, filter TriggeredFilter) ([]entities.TriggeredAlert, int64, error)
	DeleteTriggeredBefore(ctx context.Context, before time.Time) (int64, error)
}

// DispatchMarkRepository persists debounce state.
type DispatchMarkRepository interface {
	// TryMark records now for key and returns true iff the previous mark is
	// absent or at least cooldown old. The check and the write are atomic.
	TryMark(ctx context.Context, key MarkKey, now time.Time, cooldown time.Duration) (bool, error)
	GetMark(ctx context.Context, key MarkKey) (*entities.DispatchMark, error)
}

// MarkKey identifies a debounce slot.
type MarkKey struct {
	UserID    string
	RuleID    string
	Parameter string
}

// AlertRuleFilter controls rule listing queries. UserID is required.
type AlertRuleFilter struct {
	UserID string
	Active *bool
}

// TriggeredFilter controls triggered-log listing queries.
type TriggeredFilter struct {
	UserID  string
	AlertID string
	Limit   int
	Offset  int
}
