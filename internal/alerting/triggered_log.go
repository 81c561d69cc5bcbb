package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/datastore/repository"
	"github.com/greenfield-iot/agrialert/internal/errors"
)

const (
	// DefaultTriggeredPageSize is used when a listing asks for no limit.
	DefaultTriggeredPageSize = 50
	// MaxTriggeredPageSize caps a single listing page.
	MaxTriggeredPageSize = 200
)

// TriggeredFunc receives each newly recorded triggered alert.
type TriggeredFunc func(rec *entities.TriggeredAlert)

// TriggeredLog is the append-only record of dispatched alerts.
type TriggeredLog struct {
	repo repository.AlertRuleRepository
	subs *subscribers[*entities.TriggeredAlert]
}

// NewTriggeredLog creates a TriggeredLog on top of repo.
func NewTriggeredLog(repo repository.AlertRuleRepository) *TriggeredLog {
	return &TriggeredLog{
		repo: repo,
		subs: newSubscribers[*entities.TriggeredAlert](),
	}
}

// Record stores rec and pushes it to the owner's subscribers. Missing IDs
// and timestamps are filled in.
func (l *TriggeredLog) Record(ctx context.Context, rec *entities.TriggeredAlert) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TriggeredAt.IsZero() {
		rec.TriggeredAt = time.Now()
	}
	if err := l.repo.SaveTriggered(ctx, rec); err != nil {
		return errors.New(err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("operation", "record_triggered").
			Context("rule_id", rec.AlertID).
			Build()
	}
	l.subs.publish(rec.UserID, rec)
	return nil
}

// List returns a page of userID's triggered alerts, newest first, and the
// total number of records.
func (l *TriggeredLog) List(ctx context.Context, userID string, limit, offset int) ([]entities.TriggeredAlert, int64, error) {
	items, total, err := l.repo.ListTriggered(ctx, repository.TriggeredFilter{
		UserID: userID,
		Limit:  ClampPageSize(limit),
		Offset: max(offset, 0),
	})
	if err != nil {
		return nil, 0, errors.New(err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("operation", "list_triggered").
			Build()
	}
	return items, total, nil
}

// Subscribe calls fn for every record added for userID until the returned
// function is called.
func (l *TriggeredLog) Subscribe(userID string, fn TriggeredFunc) func() {
	return l.subs.add(userID, fn)
}

// DeleteBefore removes records triggered before cutoff.
func (l *TriggeredLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.repo.DeleteTriggeredBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.New(err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("operation", "delete_triggered").
			Build()
	}
	return n, nil
}

// ClampPageSize applies the default and maximum page size to limit.
func ClampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultTriggeredPageSize
	case limit > MaxTriggeredPageSize:
		return MaxTriggeredPageSize
	default:
		return limit
	}
}
