package screenshots

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory screenshot store for tests and demo mode.
type MemoryStore struct {
	mu    sync.RWMutex
	shots map[string]*Screenshot
}

// NewMemoryStore creates a new in-memory screenshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shots: make(map[string]*Screenshot)}
}

func (m *MemoryStore) Save(_ context.Context, s *Screenshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	m.shots[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Screenshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Data = append([]byte(nil), s.Data...)
	return &cp, nil
}
