// Package memory stores key-value pairs in-process for development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/SyN415/local-marketplace-lister-sub003/internal/storage"
)

type record struct {
	value     []byte
	expiresAt time.Time
}

// KV is an in-memory storage.KV implementation. Safe for concurrent use.
type KV struct {
	mu   sync.RWMutex
	data map[string]record
	now  func() time.Time
}

// New creates an empty in-memory store.
func New() *KV {
	return &KV{
		data: make(map[string]record),
		now:  time.Now,
	}
}

// NewWithClock creates a store using the supplied time source.
func NewWithClock(now func() time.Time) *KV {
	kv := New()
	if now != nil {
		kv.now = now
	}
	return kv
}

// Get returns a copy of the stored value.
func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	rec, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !rec.expiresAt.IsZero() && s.now().After(rec.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), rec.value...), nil
}

// Set stores a copy of value.
func (s *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := record{value: append([]byte(nil), value...)}
	if ttl > 0 {
		rec.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = rec
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Purge removes every key with the given prefix.
func (s *KV) Purge(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *KV) Close() error {
	return nil
}

// Len reports the number of live keys (test helper).
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
