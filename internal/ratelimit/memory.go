package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore implements CounterStore with an in-process map. Single
// instance deployments and tests use it in place of Redis.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
	now     func() time.Time
}

type memoryCounter struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounterStore creates a MemoryCounterStore.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

// Incr increments the counter for key, resetting it when its wall-clock
// window boundary has passed.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &memoryCounter{resetAt: now.Truncate(window).Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.resetAt.Sub(now), nil
}

var _ CounterStore = (*MemoryCounterStore)(nil)
