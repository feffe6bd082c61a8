package registry

import "sync"

// Memory is a thread-safe in-memory Registry. Suitable for testing and
// single-process deployments.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*lockedEntry
}

type lockedEntry struct {
	mu    sync.Mutex
	entry *Entry
}

var _ Registry = (*Memory)(nil)

// NewMemory creates an empty in-memory Registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*lockedEntry)}
}

func (m *Memory) Insert(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := e.Fragment.ID
	if _, ok := m.entries[id]; ok {
		return ErrDuplicate
	}
	m.entries[id] = &lockedEntry{entry: e}
	return nil
}

func (m *Memory) Get(fragmentID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	le, ok := m.entries[fragmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return le.entry, nil
}

func (m *Memory) Snapshot() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, le := range m.entries {
		out = append(out, le.entry)
	}
	return out
}

func (m *Memory) Remove(fragmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fragmentID)
}

func (m *Memory) WithLock(fragmentID string, fn func(e *Entry) error) error {
	m.mu.RLock()
	le, ok := m.entries[fragmentID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	le.mu.Lock()
	defer le.mu.Unlock()
	return fn(le.entry)
}
