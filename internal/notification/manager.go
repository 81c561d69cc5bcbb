package notification

import (
	"sync"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

var (
	instance *Dispatcher
	once     sync.Once
	mu       sync.RWMutex
)

// Initialize sets up the global dispatcher from settings. Later calls are
// no-ops.
func Initialize(settings *conf.NotificationSettings, log logger.Logger, opts ...Option) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		instance = NewDispatcher(settings, log, opts...)
	})
}

// GetDispatcher returns the global dispatcher, or nil before Initialize.
func GetDispatcher() *Dispatcher {
	mu.RLock()
	defer mu.RUnlock()
	return instance
}
