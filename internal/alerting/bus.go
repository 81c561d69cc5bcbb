package alerting

import (
	"fmt"
	"sync"

	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

// DefaultBusBufferSize is the capacity of the snapshot channel when none is
// configured.
const DefaultBusBufferSize = 1000

// SnapshotHandler processes one snapshot.
type SnapshotHandler func(snapshot *sensor.Snapshot)

// SnapshotBus is an async pub/sub for sensor snapshots. Publish never blocks:
// snapshots go to a buffered channel drained by a single worker goroutine,
// so MQTT callbacks and HTTP handlers are never held up by rule evaluation.
type SnapshotBus struct {
	handlers []SnapshotHandler
	mu       sync.RWMutex
	ch       chan *sensor.Snapshot
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// sendMu orders sends against Stop: once stopped is set no send is in
	// flight, so the drain sees every accepted snapshot.
	sendMu  sync.RWMutex
	stopped bool

	log     logger.Logger
	metrics *metrics.Metrics
}

// NewSnapshotBus creates a bus and starts its worker. A non-positive
// bufferSize selects DefaultBusBufferSize.
func NewSnapshotBus(bufferSize int, log logger.Logger, m *metrics.Metrics) *SnapshotBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBusBufferSize
	}
	b := &SnapshotBus{
		ch:      make(chan *sensor.Snapshot, bufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     log,
		metrics: m,
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler for snapshots.
func (b *SnapshotBus) Subscribe(handler SnapshotHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues a snapshot and reports whether it was accepted. It returns
// false when the buffer is full or the bus has been stopped.
func (b *SnapshotBus) Publish(snapshot *sensor.Snapshot) bool {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.stopped {
		return false
	}

	select {
	case b.ch <- snapshot:
		return true
	default:
		b.metrics.SnapshotDropped()
		b.log.Warn("snapshot bus full, dropping snapshot",
			logger.String("user_id", snapshot.UserID),
			logger.String("device_id", snapshot.DeviceID))
		return false
	}
}

// Stop shuts down the worker after draining queued snapshots and waits for
// it to exit. Safe to call multiple times.
func (b *SnapshotBus) Stop() {
	b.stopOnce.Do(func() {
		b.sendMu.Lock()
		b.stopped = true
		b.sendMu.Unlock()
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *SnapshotBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case snapshot := <-b.ch:
			b.dispatch(snapshot)
		case <-b.stopCh:
			for {
				select {
				case snapshot := <-b.ch:
					b.dispatch(snapshot)
				default:
					return
				}
			}
		}
	}
}

func (b *SnapshotBus) dispatch(snapshot *sensor.Snapshot) {
	b.mu.RLock()
	handlers := make([]SnapshotHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, snapshot)
	}
}

// safeCall keeps a panicking handler from killing the worker.
func (b *SnapshotBus) safeCall(handler SnapshotHandler, snapshot *sensor.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("snapshot handler panicked",
				logger.String("panic", fmt.Sprint(r)),
				logger.String("user_id", snapshot.UserID),
				logger.String("device_id", snapshot.DeviceID))
		}
	}()
	handler(snapshot)
}
