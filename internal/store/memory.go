package store

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/gwr-relay/internal/gwr"
)

// MemoryStore is a concurrent-safe LRU cache of records with per-entry TTL.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
	now        func() time.Time
}

type memoryEntry struct {
	rec       gwr.Record
	expiresAt time.Time
}

// NewMemory creates a MemoryStore holding at most maxEntries records.
func NewMemory(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// GetRecord returns a copy of the cached record. Returns nil on miss or expiration.
func (m *MemoryStore) GetRecord(_ context.Context, egid string) (gwr.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[egid]
	if !ok {
		m.misses.Add(1)
		return nil, nil
	}

	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, egid)
		m.removeFromOrder(egid)
		m.misses.Add(1)
		return nil, nil
	}

	// Move to back (most recently used).
	m.removeFromOrder(egid)
	m.order = append(m.order, egid)
	m.hits.Add(1)
	return maps.Clone(entry.rec), nil
}

// SetRecord stores a copy of rec, evicting the oldest entry if at capacity.
func (m *MemoryStore) SetRecord(_ context.Context, egid string, rec gwr.Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &memoryEntry{rec: maps.Clone(rec), expiresAt: m.now().Add(ttl)}

	if _, ok := m.entries[egid]; ok {
		m.entries[egid] = entry
		m.removeFromOrder(egid)
		m.order = append(m.order, egid)
		return nil
	}

	for len(m.entries) >= m.maxEntries && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}

	m.entries[egid] = entry
	m.order = append(m.order, egid)
	return nil
}

// DeleteExpired drops all expired entries.
func (m *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var remaining []string
	removed := 0
	for _, key := range m.order {
		if !now.Before(m.entries[key].expiresAt) {
			delete(m.entries, key)
			removed++
		} else {
			remaining = append(remaining, key)
		}
	}
	m.order = remaining
	return removed, nil
}

// Stats returns cache performance statistics.
func (m *MemoryStore) Stats() CacheStats {
	m.mu.Lock()
	entries := len(m.entries)
	m.mu.Unlock()

	hits := m.hits.Load()
	misses := m.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: m.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// removeFromOrder removes a key from the LRU order slice.
func (m *MemoryStore) removeFromOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
