package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/caps-tutor/internal/domain"
	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory. Entries expire after the idle
// TTL and go-cache's janitor removes them in the background.
type MemoryStore struct {
	mu     sync.Mutex
	cache  *cache.Cache
	ttl    time.Duration
	now    func() time.Time
	closed bool
}

// NewMemory creates an in-process store. sweepInterval controls the janitor;
// zero disables it.
func NewMemory(ttl, sweepInterval time.Duration, opts ...Option) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	o := buildOptions(opts)
	return &MemoryStore{
		cache: cache.New(ttl, sweepInterval),
		ttl:   ttl,
		now:   o.now,
	}
}

// Get implements SessionStore.
func (m *MemoryStore) Get(_ context.Context, userID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	if s := m.load(userID, now); s != nil {
		return s.Clone(), nil
	}
	return domain.NewSession(userID, now), nil
}

// Update implements SessionStore.
func (m *MemoryStore) Update(_ context.Context, userID string, fn MutateFunc) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	s := apply(m.load(userID, now), userID, m.ttl, now, fn)
	m.cache.Set(userID, s, cache.DefaultExpiration)
	return s.Clone(), nil
}

// DeleteExpired implements SessionStore.
func (m *MemoryStore) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.cache.ItemCount()
	m.cache.DeleteExpired()

	now := m.now()
	for key, item := range m.cache.Items() {
		if s, ok := item.Object.(*domain.Session); ok && s.Expired(ttl, now) {
			m.cache.Delete(key)
		}
	}
	return int64(before - m.cache.ItemCount()), nil
}

// Ping implements SessionStore.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements SessionStore. Later calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cache.Flush()
	return nil
}

// Len returns the number of stored sessions, including ones not yet swept.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}

func (m *MemoryStore) load(userID string, now time.Time) *domain.Session {
	v, ok := m.cache.Get(userID)
	if !ok {
		return nil
	}
	s, ok := v.(*domain.Session)
	if !ok || s.Expired(m.ttl, now) {
		return nil
	}
	return s
}
