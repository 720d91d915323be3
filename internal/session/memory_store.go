package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory session store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   map[string][]*Event // by session ID, append order
	results  map[string][]Answer // by session ID
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		events:   make(map[string][]*Event),
		results:  make(map[string][]Answer),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) FindOpenSession(_ context.Context, testID int64, studentRef string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.TestID == testID && s.StudentRef == studentRef && s.Status != StatusCompleted && s.EndedAt == nil {
			return copySession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) ListSessionsByExam(_ context.Context, testID int64) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, s := range m.sessions {
		if s.TestID == testID {
			result = append(result, copySession(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.events[e.SessionID] = append(m.events[e.SessionID], &cp)
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, sessionID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[sessionID]
	result := make([]*Event, len(events))
	for i, e := range events {
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

func (m *MemoryStore) SaveResults(_ context.Context, sessionID string, answers []Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	cp := make([]Answer, len(answers))
	copy(cp, answers)
	m.results[sessionID] = cp
	return nil
}

func (m *MemoryStore) GetResults(_ context.Context, sessionID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	answers := m.results[sessionID]
	cp := make([]Answer, len(answers))
	copy(cp, answers)
	return cp, nil
}

func copySession(s *Session) *Session {
	cp := *s
	cp.Whitelist = append(s.Whitelist[:0:0], s.Whitelist...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
