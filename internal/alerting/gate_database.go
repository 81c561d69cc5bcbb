package alerting

import (
	"context"
	"time"

	"github.com/greenfield-iot/agrialert/internal/datastore/repository"
	"github.com/greenfield-iot/agrialert/internal/errors"
)

// DatabaseGate keeps debounce marks in the rule database. The atomicity comes
// from the repository's conditional statements, so it is safe across
// processes sharing one database.
type DatabaseGate struct {
	marks repository.DispatchMarkRepository
}

// NewDatabaseGate creates a gate backed by marks.
func NewDatabaseGate(marks repository.DispatchMarkRepository) *DatabaseGate {
	return &DatabaseGate{marks: marks}
}

func (g *DatabaseGate) TryAcquire(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error) {
	ok, err := g.marks.TryMark(ctx, markKey(key), now, max(cooldown, 0))
	if err != nil {
		return false, errors.New(err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("operation", "try_acquire").
			Context("rule_id", key.RuleID).
			Build()
	}
	return ok, nil
}

func (g *DatabaseGate) ShouldDispatch(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	mark, err := g.marks.GetMark(ctx, markKey(key))
	if err != nil {
		if errors.Is(err, repository.ErrDispatchMarkNotFound) {
			return true, nil
		}
		return false, errors.New(err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("operation", "should_dispatch").
			Context("rule_id", key.RuleID).
			Build()
	}
	return elapsed(mark.LastDispatch(), now, cooldown), nil
}

func markKey(key Key) repository.MarkKey {
	return repository.MarkKey{
		UserID:    key.UserID,
		RuleID:    key.RuleID,
		Parameter: string(key.Parameter),
	}
}
