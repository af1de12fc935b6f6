package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value []byte
	exp   time.Time
}

type memSet struct {
	members map[string]struct{}
	exp     time.Time
}

func expired(exp, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}

// MemoryStore is an in-process Store for development and tests.
// Expiry is evaluated lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memEntry
	sets    map[string]memSet
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock lets tests control expiry.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:     now,
		entries: make(map[string]memEntry),
		sets:    make(map[string]memSet),
	}
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || expired(e.exp, s.now()) {
		delete(s.entries, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: append([]byte(nil), value...), exp: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
		delete(s.sets, k)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && !expired(e.exp, now) {
		return true, nil
	}
	if set, ok := s.sets[key]; ok && !expired(set.exp, now) && len(set.members) > 0 {
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok || expired(set.exp, s.now()) {
		set = memSet{members: make(map[string]struct{})}
	}
	set.members[member] = struct{}{}
	if ttl > 0 {
		set.exp = s.deadline(ttl)
	}
	s.sets[key] = set
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok || expired(set.exp, s.now()) {
		delete(s.sets, key)
		return nil, nil
	}
	out := make([]string, 0, len(set.members))
	for m := range set.members {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) RemoveFromSet(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set.members, m)
	}
	if len(set.members) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
