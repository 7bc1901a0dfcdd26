package service

import (
	"sync"
	"time"
)

type ttlEntry[T any] struct {
	value   T
	savedAt time.Time
}

// ttlStore keeps short-lived values in memory. Expired entries are dropped on read and swept
// on write.
type ttlStore[T any] struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]ttlEntry[T]
}

func newTTLStore[T any](ttl time.Duration) *ttlStore[T] {
	return &ttlStore[T]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]ttlEntry[T]),
	}
}

func (s *ttlStore[T]) Save(id string, value T) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.items {
		if now.Sub(entry.savedAt) > s.ttl {
			delete(s.items, key)
		}
	}
	s.items[id] = ttlEntry[T]{value: value, savedAt: now}
	return now.Add(s.ttl)
}

func (s *ttlStore[T]) Get(id string) (T, time.Time, bool) {
	s.mu.RLock()
	entry, ok := s.items[id]
	s.mu.RUnlock()
	var zero T
	if !ok {
		return zero, time.Time{}, false
	}
	if s.now().Sub(entry.savedAt) > s.ttl {
		s.Delete(id)
		return zero, time.Time{}, false
	}
	return entry.value, entry.savedAt.Add(s.ttl), true
}

// Update applies fn to a live entry without refreshing its age.
func (s *ttlStore[T]) Update(id string, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[id]
	if !ok {
		return false
	}
	fn(&entry.value)
	s.items[id] = entry
	return true
}

func (s *ttlStore[T]) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

func (s *ttlStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
