package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultMaxEntries = 1000

type memoryEntry struct {
	value     []byte
	tags      []string
	updatedAt time.Time
	expiresAt time.Time
}

// MemoryBackend is the bounded in-process tier. Expired entries are dropped
// lazily on lookup and eagerly whenever a write pushes the map over its limit.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	tags       map[string]map[string]struct{}
	maxEntries int
	now        func() time.Time
}

func NewMemoryBackend(maxEntries int, now func() time.Time) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{
		entries:    make(map[string]*memoryEntry),
		tags:       make(map[string]map[string]struct{}),
		maxEntries: maxEntries,
		now:        now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, 0, false, nil
	}
	now := m.now()
	if !now.Before(entry.expiresAt) {
		m.removeLocked(key)
		return nil, 0, false, nil
	}
	return append([]byte(nil), entry.value...), entry.expiresAt.Sub(now), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Entries are replaced whole; drop the old tag links first.
	m.removeLocked(key)

	now := m.now()
	m.entries[key] = &memoryEntry{
		value:     append([]byte(nil), value...),
		tags:      append([]string(nil), tags...),
		updatedAt: now,
		expiresAt: now.Add(ttl),
	}
	for _, tag := range tags {
		keys := m.tags[tag]
		if keys == nil {
			keys = make(map[string]struct{})
			m.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}

	m.trimLocked(now)
	return nil
}

func (m *MemoryBackend) InvalidateTag(_ context.Context, tag string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.tags[tag]
	removed := 0
	for key := range keys {
		if m.removeLocked(key) {
			removed++
		}
	}
	delete(m.tags, tag)
	return removed, nil
}

// Len reports the number of stored entries, expired ones included until trimmed.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryBackend) removeLocked(key string) bool {
	entry, ok := m.entries[key]
	if !ok {
		return false
	}
	delete(m.entries, key)
	for _, tag := range entry.tags {
		keys := m.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.tags, tag)
		}
	}
	return true
}

func (m *MemoryBackend) trimLocked(now time.Time) {
	if len(m.entries) <= m.maxEntries {
		return
	}

	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			m.removeLocked(key)
		}
	}
	if len(m.entries) <= m.maxEntries {
		return
	}

	type pair struct {
		key   string
		entry *memoryEntry
	}
	items := make([]pair, 0, len(m.entries))
	for key, entry := range m.entries {
		items = append(items, pair{key: key, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.updatedAt.Before(items[j].entry.updatedAt)
	})
	for i := 0; i < len(items)-m.maxEntries; i++ {
		m.removeLocked(items[i].key)
	}
}
