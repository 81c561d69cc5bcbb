package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryGate keeps marks in process memory. It is only correct for a single
// process; restarts forget every window.
type MemoryGate struct {
	mu    sync.Mutex
	marks *cache.Cache
}

// NewMemoryGate creates an empty in-memory gate. Expired marks are evicted
// lazily on writes, so the gate starts no background goroutine.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{marks: cache.New(cache.NoExpiration, 0)}
}

func (g *MemoryGate) TryAcquire(_ context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.allowedLocked(key, now, cooldown) {
		return false, nil
	}
	g.marks.DeleteExpired()
	g.marks.Set(key.String(), now, ttl(cooldown))
	return true, nil
}

func (g *MemoryGate) ShouldDispatch(_ context.Context, key Key, now time.Time, cooldown time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowedLocked(key, now, cooldown), nil
}

// Len returns the number of live marks.
func (g *MemoryGate) Len() int {
	return g.marks.ItemCount()
}

func (g *MemoryGate) allowedLocked(key Key, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	v, found := g.marks.Get(key.String())
	if !found {
		return true
	}
	last, ok := v.(time.Time)
	return !ok || elapsed(last, now, cooldown)
}

// ttl keeps a mark at least as long as its window. A non-positive cooldown
// still stores the mark briefly instead of forever.
func ttl(cooldown time.Duration) time.Duration {
	if cooldown <= 0 {
		return time.Millisecond
	}
	return cooldown
}
