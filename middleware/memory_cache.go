package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/shrek82/dbutil/core"
)

// MemoryCache caches query results in process memory. Queries are cached
// only when their context carries WithCacheTTL.
type MemoryCache struct {
	resultCache
	mem *memoryStore

	stopOnce  sync.Once
	stopClean chan struct{}
}

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryCacheEntry
	now   func() time.Time
}

type memoryCacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache. defaultTTL applies to
// WithCacheTTL(ctx, UseDefault) and defaults to five minutes.
func NewMemoryCache(defaultTTL ...time.Duration) *MemoryCache {
	ttl := 5 * time.Minute
	if len(defaultTTL) > 0 {
		ttl = defaultTTL[0]
	}
	mem := &memoryStore{items: make(map[string]memoryCacheEntry), now: time.Now}
	return &MemoryCache{
		resultCache: resultCache{name: "MemoryCache", defaultTTL: ttl, store: mem},
		mem:         mem,
		stopClean:   make(chan struct{}),
	}
}

func (m *MemoryCache) Name() string {
	return m.name
}

func (m *MemoryCache) Init(r *core.Registry) error {
	m.init(r)
	go m.cleanupLoop()
	return nil
}

func (m *MemoryCache) Shutdown() error {
	m.stopOnce.Do(func() { close(m.stopClean) })
	return nil
}

func (m *MemoryCache) Process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	return m.process(ctx, stmt, next)
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int {
	m.mem.mu.RLock()
	defer m.mem.mu.RUnlock()
	return len(m.mem.items)
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopClean:
			return
		case <-ticker.C:
			m.mem.cleanup()
		}
	}
}

func (s *memoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.items {
		if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
			delete(s.items, k)
		}
	}
}

func (s *memoryStore) get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, found := s.items[key]
	s.mu.RUnlock()
	if !found {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		// lazy delete
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (s *memoryStore) set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	entry := memoryCacheEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = entry
	s.mu.Unlock()
	return nil
}
