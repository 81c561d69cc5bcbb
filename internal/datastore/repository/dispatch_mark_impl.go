package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/errors"
)

type dispatchMarkRepository struct {
	db *gorm.DB
}

// NewDispatchMarkRepository creates a DispatchMarkRepository.
func NewDispatchMarkRepository(db *gorm.DB) DispatchMarkRepository {
	return &dispatchMarkRepository{db: db}
}

// TryMark is two single-statement steps, each atomic on its own: an insert
// that does nothing when the key exists, then a conditional update that only
// matches a stale mark. Exactly one concurrent caller can win either step.
func (r *dispatchMarkRepository) TryMark(ctx context.Context, key MarkKey, now time.Time, cooldown time.Duration) (bool, error) {
	nowNanos := now.UnixNano()
	mark := &entities.DispatchMark{
		UserID:         key.UserID,
		RuleID:         key.RuleID,
		Parameter:      key.Parameter,
		LastDispatchAt: nowNanos,
	}

	inserted := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(mark)
	if inserted.Error != nil {
		return false, fmt.Errorf("failed to insert dispatch mark: %w", inserted.Error)
	}
	if inserted.RowsAffected == 1 {
		return true, nil
	}

	staleBefore := now.Add(-cooldown).UnixNano()
	updated := r.db.WithContext(ctx).Model(&entities.DispatchMark{}).
		Where("user_id = ? AND rule_id = ? AND parameter = ? AND last_dispatch_at <= ?",
			key.UserID, key.RuleID, key.Parameter, staleBefore).
		Update("last_dispatch_at", nowNanos)
	if updated.Error != nil {
		return false, fmt.Errorf("failed to update dispatch mark: %w", updated.Error)
	}
	return updated.RowsAffected == 1, nil
}

// GetMark returns the mark for key or ErrDispatchMarkNotFound.
func (r *dispatchMarkRepository) GetMark(ctx context.Context, key MarkKey) (*entities.DispatchMark, error) {
	var mark entities.DispatchMark
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND rule_id = ? AND parameter = ?", key.UserID, key.RuleID, key.Parameter).
		First(&mark).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDispatchMarkNotFound
		}
		return nil, fmt.Errorf("failed to get dispatch mark: %w", err)
	}
	return &mark, nil
}
