package correlation

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded map. Entries older than the TTL are dropped
// lazily; a zero TTL keeps entries until deleted.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
	waiters map[string]map[chan struct{}]struct{}
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		waiters: make(map[string]map[chan struct{}]struct{}),
	}
}

func (m *MemoryStore) Put(_ context.Context, id string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[id]; ok && !m.expired(e, now) {
		return false, nil
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		entry.expiresAt = now.Add(m.ttl)
	}
	m.entries[id] = entry
	for ch := range m.waiters[id] {
		close(ch)
	}
	delete(m.waiters, id)
	m.sweep(now)
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(e, m.now()) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Notify implements Notifier.
func (m *MemoryStore) Notify(id string) (<-chan struct{}, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan struct{})
	if e, ok := m.entries[id]; ok && !m.expired(e, m.now()) {
		close(ch)
		return ch, func() {}
	}
	set, ok := m.waiters[id]
	if !ok {
		set = make(map[chan struct{}]struct{})
		m.waiters[id] = set
	}
	set[ch] = struct{}{}
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.waiters[id]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(m.waiters, id)
			}
		}
	}
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.now())
	return len(m.entries)
}

// Waiters reports the number of registered notification channels.
func (m *MemoryStore) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, set := range m.waiters {
		n += len(set)
	}
	return n
}

func (m *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (m *MemoryStore) sweep(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
		}
	}
}
