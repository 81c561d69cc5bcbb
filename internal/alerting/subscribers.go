package alerting

import "sync"

// subscribers is a per-user fan-out list. Callbacks run on the publishing
// goroutine, outside the lock.
type subscribers[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	byUser map[string]map[uint64]func(T)
}

func newSubscribers[T any]() *subscribers[T] {
	return &subscribers[T]{byUser: make(map[string]map[uint64]func(T))}
}

// add registers fn for userID and returns an idempotent unsubscribe.
func (s *subscribers[T]) add(userID string, fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[uint64]func(T))
	}
	s.byUser[userID][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.byUser[userID], id)
			if len(s.byUser[userID]) == 0 {
				delete(s.byUser, userID)
			}
		})
	}
}

func (s *subscribers[T]) has(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID]) > 0
}

func (s *subscribers[T]) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, fns := range s.byUser {
		n += len(fns)
	}
	return n
}

func (s *subscribers[T]) publish(userID string, v T) {
	s.mu.RLock()
	fns := make([]func(T), 0, len(s.byUser[userID]))
	for _, fn := range s.byUser[userID] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}
