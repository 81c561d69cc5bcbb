package alerting

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/greenfield-iot/agrialert/internal/datastore/entities"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/notification"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

const (
	// recordTimeout is the context deadline for persisting a triggered record.
	recordTimeout = 5 * time.Second
	// cleanupTimeout is the context deadline for the periodic history deletion.
	cleanupTimeout = 30 * time.Second
	// cleanupInterval is how often the history cleanup goroutine runs.
	cleanupInterval = 1 * time.Hour
	// DefaultDispatchTimeout bounds one dispatch including its retries.
	DefaultDispatchTimeout = 2 * time.Minute
	// maxRecordedError matches the triggered_alerts.error column size.
	maxRecordedError = 1000
)

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	// Cooldown is the debounce window per (user, rule, parameter).
	Cooldown time.Duration
	// FailOpen lets dispatches through when the gate's store errors.
	FailOpen bool
	// DispatchTimeout bounds a single dispatch. Zero selects the default.
	DispatchTimeout time.Duration
}

// Engine evaluates snapshots against each user's active rules, debounces
// the rules that fire and dispatches notifications for the survivors.
type Engine struct {
	rules     *RuleStore
	triggered *TriggeredLog
	gate      Gate
	sender    notification.Sender
	cfg       EngineConfig
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// Per-user active rule cache, kept current by RuleStore subscriptions.
	cacheMu sync.Mutex
	cache   map[string]*ruleSet
	stopped bool

	// Most recent snapshot per user and device, used by TestFire.
	lastMu sync.RWMutex
	last   map[string]map[string]*sensor.Snapshot

	inflight sync.WaitGroup

	cleanupMu   sync.Mutex
	cleanupStop chan struct{}
}

type ruleSet struct {
	rules       []entities.AlertRule
	unsubscribe func()
}

// NewEngine creates an engine. m may be nil.
func NewEngine(
	rules *RuleStore,
	triggered *TriggeredLog,
	gate Gate,
	sender notification.Sender,
	cfg EngineConfig,
	log logger.Logger,
	m *metrics.Metrics,
) *Engine {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Engine{
		rules:     rules,
		triggered: triggered,
		gate:      gate,
		sender:    sender,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		now:       time.Now,
		cache:     make(map[string]*ruleSet),
		last:      make(map[string]map[string]*sensor.Snapshot),
	}
}

// Cooldown returns the configured debounce window.
func (e *Engine) Cooldown() time.Duration { return e.cfg.Cooldown }

// HandleSnapshot evaluates every active rule of the snapshot's owner that
// applies to its device. Rules that are met pass through the gate, and each
// one that acquires it is dispatched in the background. HandleSnapshot
// returns once all rules are evaluated and gated; use Wait to block until
// the dispatches finish.
func (e *Engine) HandleSnapshot(ctx context.Context, snapshot *sensor.Snapshot) error {
	if snapshot == nil || snapshot.UserID == "" {
		return errors.Newf("snapshot has no owner").
			Component(component).
			Category(errors.CategoryValidation).
			Context("field", "userId").
			Build()
	}
	e.remember(snapshot)

	rules, err := e.activeRules(ctx, snapshot.UserID)
	if err != nil {
		return err
	}

	type hit struct {
		rule  entities.AlertRule
		value float64
	}
	var hits []hit
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesTo(snapshot.DeviceID) {
			continue
		}
		res := Evaluate(snapshot, rule)
		e.metrics.RuleEvaluated(res.Outcome.String())
		if res.Met() {
			hits = append(hits, hit{rule: *rule, value: res.Value})
		}
	}

	now := e.now()
	for _, h := range hits {
		if !e.acquire(ctx, &h.rule, now) {
			continue
		}
		e.inflight.Go(func() {
			e.dispatch(ctx, &h.rule, snapshot, h.value, false)
		})
	}
	return nil
}

// acquire runs the gate for rule and applies the failure policy.
func (e *Engine) acquire(ctx context.Context, rule *entities.AlertRule, now time.Time) bool {
	key := Key{UserID: rule.UserID, RuleID: rule.ID, Parameter: rule.Parameter}
	ok, err := e.gate.TryAcquire(ctx, key, now, e.cfg.Cooldown)
	if err != nil {
		e.metrics.DebounceError()
		e.log.Warn("debounce store unavailable",
			logger.String("rule_id", rule.ID),
			logger.String("user_id", rule.UserID),
			logger.Bool("fail_open", e.cfg.FailOpen),
			logger.Error(err))
		return e.cfg.FailOpen
	}
	if !ok {
		e.metrics.Suppressed()
		e.log.Debug("alert suppressed by cooldown",
			logger.String("rule_id", rule.ID),
			logger.Duration("cooldown", e.cfg.Cooldown))
	}
	return ok
}

// dispatch sends one notification and records the outcome. It is detached
// from ctx's cancellation so an ending session never abandons a send.
func (e *Engine) dispatch(ctx context.Context, rule *entities.AlertRule, snapshot *sensor.Snapshot, value float64, test bool) *entities.TriggeredAlert {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DispatchTimeout)
	defer cancel()

	triggeredAt := e.now()
	req := buildRequest(rule, snapshot, value, triggeredAt, test)

	start := time.Now()
	resp, err := e.sender.Dispatch(ctx, req)

	rec := &entities.TriggeredAlert{
		UserID:       rule.UserID,
		AlertID:      rule.ID,
		Parameter:    rule.Parameter,
		Comparison:   rule.Comparison,
		Threshold:    rule.Threshold,
		CurrentValue: value,
		Critical:     rule.Critical,
		DeviceID:     req.DeviceID,
		TriggeredAt:  triggeredAt,
		Status:       entities.TriggeredStatusSent,
		Test:         test,
	}
	if resp != nil {
		rec.Attempts = resp.Attempts
	}
	if err != nil {
		rec.Status = entities.TriggeredStatusFailed
		rec.Error = truncate(err.Error(), maxRecordedError)
		e.log.Error("alert dispatch failed",
			logger.String("rule_id", rule.ID),
			logger.String("user_id", rule.UserID),
			logger.String("device_id", req.DeviceID),
			logger.Int("attempts", rec.Attempts),
			logger.Error(err))
	} else {
		e.log.Info("alert dispatched",
			logger.String("rule_id", rule.ID),
			logger.String("user_id", rule.UserID),
			logger.String("device_id", req.DeviceID),
			logger.String("parameter", rule.Parameter.String()),
			logger.Float64("value", value),
			logger.Bool("test", test))
	}
	e.metrics.Dispatched(rec.Status, rec.Attempts, time.Since(start))

	recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer recordCancel()
	if err := e.triggered.Record(recordCtx, rec); err != nil {
		e.log.Error("failed to record triggered alert",
			logger.String("rule_id", rule.ID),
			logger.Error(err))
	}
	return rec
}

func buildRequest(rule *entities.AlertRule, snapshot *sensor.Snapshot, value float64, at time.Time, test bool) *notification.Request {
	req := &notification.Request{
		SensorData: map[string]any{},
		DeviceID:   rule.DeviceID,
		Alert: notification.Alert{
			ID:           rule.ID,
			UserID:       rule.UserID,
			Parameter:    rule.Parameter.String(),
			Comparison:   rule.Comparison,
			Threshold:    rule.Threshold,
			CurrentValue: value,
			Critical:     rule.Critical,
			Contact:      notification.Contact{Type: rule.Contact.Type, Value: rule.Contact.Value},
			TriggeredAt:  at,
			Test:         test,
		},
	}
	if snapshot != nil {
		req.DeviceID = snapshot.DeviceID
		maps.Copy(req.SensorData, snapshot.Readings)
	}
	return req
}

// TestFire dispatches rule once, bypassing evaluation and the gate. The
// latest snapshot from the rule's device supplies the sensor data; without
// one the threshold stands in for the current value.
func (e *Engine) TestFire(ctx context.Context, userID, ruleID string) (*entities.TriggeredAlert, error) {
	rule, err := e.rules.Get(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	snapshot := e.latest(userID, rule.DeviceID)
	value := rule.Threshold
	if snapshot != nil {
		if v, ok := snapshot.Value(rule.Parameter); ok {
			value = v
		}
	}
	return e.dispatch(ctx, rule, snapshot, value, true), nil
}

// CanDispatch reports whether rule would pass the gate right now, without
// consuming the window.
func (e *Engine) CanDispatch(ctx context.Context, userID, ruleID string) (bool, error) {
	rule, err := e.rules.Get(ctx, userID, ruleID)
	if err != nil {
		return false, err
	}
	key := Key{UserID: rule.UserID, RuleID: rule.ID, Parameter: rule.Parameter}
	return e.gate.ShouldDispatch(ctx, key, e.now(), e.cfg.Cooldown)
}

// activeRules returns userID's cached active rules, subscribing on first use.
func (e *Engine) activeRules(ctx context.Context, userID string) ([]entities.AlertRule, error) {
	e.cacheMu.Lock()
	if e.stopped {
		e.cacheMu.Unlock()
		return nil, errors.Newf("alerting engine stopped").
			Component(component).
			Category(errors.CategoryInternal).
			Build()
	}
	if set, ok := e.cache[userID]; ok {
		rules := set.rules
		e.cacheMu.Unlock()
		return rules, nil
	}
	e.cacheMu.Unlock()

	set := &ruleSet{}
	unsubscribe, err := e.rules.SubscribeActive(ctx, userID, func(rules []entities.AlertRule) {
		e.cacheMu.Lock()
		set.rules = rules
		e.cacheMu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if existing, ok := e.cache[userID]; ok || e.stopped {
		// Lost a race with another first snapshot, or stopped meanwhile.
		unsubscribe()
		if ok {
			return existing.rules, nil
		}
		return set.rules, nil
	}
	set.unsubscribe = unsubscribe
	e.cache[userID] = set
	e.metrics.SetCachedRuleSets(len(e.cache))
	return set.rules, nil
}

func (e *Engine) remember(snapshot *sensor.Snapshot) {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	devices := e.last[snapshot.UserID]
	if devices == nil {
		devices = make(map[string]*sensor.Snapshot)
		e.last[snapshot.UserID] = devices
	}
	devices[snapshot.DeviceID] = snapshot
}

// latest returns the newest snapshot for deviceID, or for any of the user's
// devices when deviceID is empty.
func (e *Engine) latest(userID, deviceID string) *sensor.Snapshot {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	devices := e.last[userID]
	if deviceID != "" {
		return devices[deviceID]
	}
	var newest *sensor.Snapshot
	for _, s := range devices {
		if newest == nil || s.CapturedAt.After(newest.CapturedAt) {
			newest = s
		}
	}
	return newest
}

// Wait blocks until every in-flight dispatch has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// StartHistoryCleanup starts a background goroutine that periodically deletes
// triggered records older than retentionDays. A value of 0 disables cleanup.
func (e *Engine) StartHistoryCleanup(retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	e.stopCleanup()
	e.cleanupMu.Lock()
	e.cleanupStop = make(chan struct{})
	stopCh := e.cleanupStop
	e.cleanupMu.Unlock()
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.cleanupHistory(retentionDays)
			case <-stopCh:
				return
			}
		}
	}()
}

func (e *Engine) cleanupHistory(retentionDays int) {
	cutoff := e.now().AddDate(0, 0, -retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	deleted, err := e.triggered.DeleteBefore(ctx, cutoff)
	if err != nil {
		e.log.Error("triggered alert cleanup failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		e.log.Info("triggered alert cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", retentionDays))
	}
}

// stopCleanup signals the cleanup goroutine to exit. The nil-check and close
// happen under cleanupMu so Stop and StartHistoryCleanup cannot double-close.
func (e *Engine) stopCleanup() {
	e.cleanupMu.Lock()
	ch := e.cleanupStop
	e.cleanupStop = nil
	e.cleanupMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Stop releases every rule subscription, stops history cleanup and waits
// for in-flight dispatches. Later snapshots are rejected.
func (e *Engine) Stop() {
	e.cacheMu.Lock()
	e.stopped = true
	sets := e.cache
	e.cache = make(map[string]*ruleSet)
	e.cacheMu.Unlock()

	for _, set := range sets {
		set.unsubscribe()
	}
	e.metrics.SetCachedRuleSets(0)
	e.stopCleanup()
	e.inflight.Wait()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
