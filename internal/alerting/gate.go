package alerting

import (
	"context"
	"time"

	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// Key identifies one debounce slot. A rule watches a single parameter, so in
// practice the slot is per rule, but the parameter stays part of the key so
// that editing a rule's parameter starts a fresh window.
type Key struct {
	UserID    string
	RuleID    string
	Parameter sensor.Parameter
}

func (k Key) String() string {
	return k.UserID + ":" + k.RuleID + ":" + string(k.Parameter)
}

// Gate suppresses repeated dispatches for the same key within a cooldown.
type Gate interface {
	// TryAcquire reports whether a dispatch may proceed and, when it may,
	// records now as the key's last dispatch. The check and the record are a
	// single atomic step: of any number of concurrent callers for one key
	// inside a window, at most one gets true.
	TryAcquire(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error)

	// ShouldDispatch is a read-only probe of TryAcquire's answer. It must not
	// be combined with a separate write to implement debouncing.
	ShouldDispatch(ctx context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error)
}

// elapsed reports whether last is at least cooldown before now.
func elapsed(last, now time.Time, cooldown time.Duration) bool {
	return !now.Before(last.Add(cooldown))
}
