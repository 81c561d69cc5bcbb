//go:build integration

package containers

import (
	"fmt"
	"sync"
	"testing"
)

// CleanupManager tears down test resources in LIFO order, so a client is
// disconnected before the broker it talks to is terminated.
type CleanupManager struct {
	mu       sync.Mutex
	cleanups []cleanupFunc
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// NewCleanupManager creates a new CleanupManager.
func NewCleanupManager() *CleanupManager {
	return &CleanupManager{}
}

// Add registers a cleanup step.
func (cm *CleanupManager) Add(name string, fn func() error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cleanups = append(cm.cleanups, cleanupFunc{name: name, fn: fn})
}

// Cleanup runs every registered step, last added first, and collects the
// failures. Steps run without the lock held so they may call Add.
func (cm *CleanupManager) Cleanup() []error {
	cm.mu.Lock()
	steps := cm.cleanups
	cm.cleanups = nil
	cm.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s cleanup failed: %w", steps[i].name, err))
		}
	}
	return errs
}

// RegisterTestCleanup runs Cleanup from t.Cleanup and reports failures.
func (cm *CleanupManager) RegisterTestCleanup(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		for _, err := range cm.Cleanup() {
			t.Errorf("Cleanup error: %v", err)
		}
	})
}
