package alerting

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/datastore/repository"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/notification"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// Deps are the already-constructed collaborators the alerting service needs.
type Deps struct {
	DB      *gorm.DB
	Redis   redis.UniversalClient // required only for the redis debounce store
	Sender  notification.Sender
	Metrics *metrics.Metrics
}

// Service bundles the running alerting components.
type Service struct {
	Rules     *RuleStore
	Triggered *TriggeredLog
	Gate      Gate
	Engine    *Engine
	Bus       *SnapshotBus
}

// NewGate builds the debounce gate selected by store.
func NewGate(store string, db *gorm.DB, client redis.UniversalClient, prefix string) (Gate, error) {
	switch store {
	case conf.DebounceStoreDatabase, "":
		return NewDatabaseGate(repository.NewDispatchMarkRepository(db)), nil
	case conf.DebounceStoreRedis:
		if client == nil {
			return nil, errors.Newf("redis debounce store selected but no redis client configured").
				Component(component).
				Category(errors.CategoryConfiguration).
				Build()
		}
		return NewRedisGate(client, prefix), nil
	case conf.DebounceStoreMemory:
		return NewMemoryGate(), nil
	default:
		return nil, errors.Newf("unsupported debounce store %q", store).
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("field", "alerting.debounce.store").
			Build()
	}
}

// Initialize wires the rule store, triggered log, gate, engine and snapshot
// bus, and starts history cleanup.
func Initialize(settings *conf.Settings, deps Deps, log logger.Logger) (*Service, error) {
	log = log.Module(component)

	gate, err := NewGate(settings.Alerting.Debounce.Store, deps.DB, deps.Redis, settings.Redis.Prefix)
	if err != nil {
		return nil, err
	}

	repo := repository.NewAlertRuleRepository(deps.DB)
	rules := NewRuleStore(repo, log)
	triggered := NewTriggeredLog(repo)

	engine := NewEngine(rules, triggered, gate, deps.Sender, EngineConfig{
		Cooldown:        settings.Alerting.Cooldown.Std(),
		FailOpen:        settings.Alerting.Debounce.FailOpen,
		DispatchTimeout: dispatchBudget(&settings.Notification),
	}, log, deps.Metrics)

	bus := NewSnapshotBus(settings.Alerting.BusBufferSize, log, deps.Metrics)
	bus.Subscribe(func(snapshot *sensor.Snapshot) {
		if err := engine.HandleSnapshot(context.Background(), snapshot); err != nil {
			log.Warn("snapshot evaluation failed",
				logger.String("user_id", snapshot.UserID),
				logger.String("device_id", snapshot.DeviceID),
				logger.Error(err))
		}
	})

	engine.StartHistoryCleanup(settings.Alerting.HistoryRetentionDays)

	log.Info("alerting service initialized",
		logger.String("debounce_store", settings.Alerting.Debounce.Store),
		logger.Duration("cooldown", engine.Cooldown()),
		logger.Bool("fail_open", settings.Alerting.Debounce.FailOpen))

	return &Service{
		Rules:     rules,
		Triggered: triggered,
		Gate:      gate,
		Engine:    engine,
		Bus:       bus,
	}, nil
}

// Stop drains the bus, then stops the engine and waits for dispatches.
func (s *Service) Stop() {
	s.Bus.Stop()
	s.Engine.Stop()
}

// dispatchBudget covers every attempt of a dispatch plus its backoff and a
// capped Retry-After.
func dispatchBudget(n *conf.NotificationSettings) time.Duration {
	attempts := time.Duration(max(n.Retry.MaxAttempts, 1))
	budget := attempts * (n.Timeout.Std() + n.Retry.MaxBackoff.Std() + 30*time.Second)
	if budget <= 0 {
		return DefaultDispatchTimeout
	}
	return budget
}
