package store

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process [Store]. It honours the same TTL and atomicity
// contract as [Redis] within a single process and is meant for tests and
// single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory returns an empty [Memory] store. A nil clock uses time.Now.
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     clock,
	}
}

// lookup returns the live entry for key, evicting it if expired.
// Callers must hold s.mu.
func (s *Memory) lookup(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Get implements [Store].
func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(key, s.now())
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(entry.value), nil
}

// SetWithTTL implements [Store].
func (s *Memory) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := checkTTL(ttl); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: bytes.Clone(value), expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Delete implements [Store].
func (s *Memory) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// AtomicIncrement implements [Store].
func (s *Memory) AtomicIncrement(_ context.Context, key string, limit int64, window time.Duration) (Counter, error) {
	if err := checkKey(key); err != nil {
		return Counter{}, err
	}
	if limit <= 0 || window <= 0 {
		return Counter{}, ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.lookup(key, now)
	var current int64
	if ok {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return Counter{}, ErrUnavailable
		}
		current = parsed
	} else {
		entry = memoryEntry{expiresAt: now.Add(window)}
	}

	allowed := current < limit
	if allowed {
		current++
	}
	entry.value = []byte(strconv.FormatInt(current, 10))
	s.entries[key] = entry

	return Counter{
		Count:   current,
		Limit:   limit,
		Allowed: allowed,
		ResetIn: entry.expiresAt.Sub(now),
	}, nil
}

// CompareAndSwap implements [Store].
func (s *Memory) CompareAndSwap(_ context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	if err := checkTTL(ttl); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.lookup(key, now)
	if !ok {
		return false, ErrNotFound
	}
	if !bytes.Equal(entry.value, expected) {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: bytes.Clone(next), expiresAt: now.Add(ttl)}
	return true, nil
}

// Sweep evicts every expired entry and returns how many were removed.
// Reads already ignore expired entries; Sweep only reclaims memory.
func (s *Memory) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}
