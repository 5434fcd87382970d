package coord

import (
	"context"
	"sync"
	"time"
)

// entry holds one key's state. A key is either a plain value, a counter, or a
// list; the store does not police cross-type use since key namespaces are
// disjoint by construction.
type entry struct {
	value   string
	counter int64
	list    []string
	expires time.Time // zero = no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemoryStore is an in-process Store used for tests and single-process runs.
// Expiry is enforced lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook for expiry behavior.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// get returns a live entry or nil; caller must hold the lock.
func (m *MemoryStore) get(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &entry{value: value, expires: m.deadline(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.get(key) != nil {
		return false, nil
	}
	m.entries[key] = &entry{value: value, expires: m.deadline(ttl)}
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed := m.get(key) != nil
	delete(m.entries, key)
	return existed, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}
	e.counter++
	e.expires = m.deadline(ttl)
	return e.counter, nil
}

func (m *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return 0, nil
	}
	if e.counter > 0 {
		e.counter--
	}
	return e.counter, nil
}

func (m *MemoryStore) Append(_ context.Context, key, value string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}
	e.list = append(e.list, value)
	e.expires = m.deadline(ttl)
	return len(e.list), nil
}

func (m *MemoryStore) List(_ context.Context, key string, from int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil || from >= len(e.list) {
		return nil, nil
	}
	if from < 0 {
		from = 0
	}
	out := make([]string, len(e.list)-from)
	copy(out, e.list[from:])
	return out, nil
}

func (m *MemoryStore) Len(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return 0, nil
	}
	return len(e.list), nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}
