package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/errors"
)

// alertRuleRepository implements AlertRuleRepository.
type alertRuleRepository struct {
	db *gorm.DB
}

// NewAlertRuleRepository creates a new AlertRuleRepository.
func NewAlertRuleRepository(db *gorm.DB) AlertRuleRepository {
	return &alertRuleRepository{db: db}
}

// ListRules returns a user's rules, oldest first.
func (r *alertRuleRepository) ListRules(ctx context.Context, filter AlertRuleFilter) ([]entities.AlertRule, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("failed to list alert rules: missing user ID")
	}
	var rules []entities.AlertRule
	query := r.db.WithContext(ctx).Where("user_id = ?", filter.UserID)
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if err := query.Order("created_at ASC, id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single rule owned by userID.
// Returns ErrAlertRuleNotFound if the rule does not exist or is not owned by userID.
func (r *alertRuleRepository) GetRule(ctx context.Context, userID, id string) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %s: %w", id, err)
	}
	return &rule, nil
}

// CreateRule inserts a rule. The caller assigns the ID.
func (r *alertRuleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == "" || rule.UserID == "" {
		return fmt.Errorf("failed to create alert rule: missing rule or user ID")
	}
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

// CreateRules inserts rules in one transaction; either all are stored or
// none are.
func (r *alertRuleRepository) CreateRules(ctx context.Context, rules []*entities.AlertRule) error {
	for _, rule := range rules {
		if rule.ID == "" || rule.UserID == "" {
			return fmt.Errorf("failed to create alert rules: missing rule or user ID")
		}
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rule := range rules {
			if err := tx.Create(rule).Error; err != nil {
				return fmt.Errorf("failed to create alert rule %s: %w", rule.ID, err)
			}
		}
		return nil
	})
}

// ruleColumns are the user-editable columns replaced by UpdateRule.
var ruleColumns = []string{
	"device_id", "parameter", "comparison", "threshold", "critical", "active",
	"contact_type", "contact_value", "updated_at",
}

// UpdateRule replaces the editable fields of an existing rule. Ownership and
// creation time are never changed.
func (r *alertRuleRepository) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("failed to update alert rule: missing rule ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.AlertRule
		if err := tx.Where("id = ? AND user_id = ?", rule.ID, rule.UserID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAlertRuleNotFound
			}
			return fmt.Errorf("failed to load alert rule %s: %w", rule.ID, err)
		}
		rule.CreatedAt = existing.CreatedAt
		rule.UpdatedAt = time.Now()
		if err := tx.Model(&existing).Select(ruleColumns).Updates(rule).Error; err != nil {
			return fmt.Errorf("failed to update alert rule: %w", err)
		}
		return nil
	})
}

// DeleteRule deletes a rule and its debounce marks. Triggered records are
// kept; they only refer back to the rule.
func (r *alertRuleRepository) DeleteRule(ctx context.Context, userID, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&entities.AlertRule{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete alert rule %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlertRuleNotFound
		}
		if err := tx.Where("user_id = ? AND rule_id = ?", userID, id).Delete(&entities.DispatchMark{}).Error; err != nil {
			return fmt.Errorf("failed to delete dispatch marks for rule %s: %w", id, err)
		}
		return nil
	})
}

// ToggleRule activates or deactivates a rule.
func (r *alertRuleRepository) ToggleRule(ctx context.Context, userID, id string, active bool) error {
	result := r.db.WithContext(ctx).Model(&entities.AlertRule{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to toggle alert rule %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

// SaveTriggered appends a triggered-alert record.
func (r *alertRuleRepository) SaveTriggered(ctx context.Context, rec *entities.TriggeredAlert) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save triggered alert: %w", err)
	}
	return nil
}

// ListTriggered returns a user's triggered alerts, newest first, with the
// total count before pagination.
func (r *alertRuleRepository) ListTriggered(ctx context.Context, filter TriggeredFilter) ([]entities.TriggeredAlert, int64, error) {
	var items []entities.TriggeredAlert
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", filter.UserID)
		if filter.AlertID != "" {
			db = db.Where("alert_id = ?", filter.AlertID)
		}
		return db
	}

	if err := r.db.WithContext(ctx).Model(&entities.TriggeredAlert{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count triggered alerts: %w", err)
	}

	query := r.db.WithContext(ctx).Scopes(scope).Order("triggered_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list triggered alerts: %w", err)
	}
	return items, total, nil
}

// DeleteTriggeredBefore deletes triggered alerts older than before.
func (r *alertRuleRepository) DeleteTriggeredBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("triggered_at < ?", before).Delete(&entities.TriggeredAlert{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete triggered alerts before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
