package exam

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory exam store for tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	exams  map[int64]*Exam  // by ID
	byCode map[string]int64 // access code -> ID
}

// NewMemoryStore creates a new in-memory exam store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		exams:  make(map[int64]*Exam),
		byCode: make(map[string]int64),
	}
}

func (m *MemoryStore) Create(_ context.Context, e *Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byCode[e.AccessCode]; taken {
		return ErrCodeTaken
	}

	e.ID = m.nextID
	m.nextID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	cp := copyExam(e)
	m.exams[e.ID] = cp
	m.byCode[e.AccessCode] = e.ID
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id int64) (*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.exams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExam(e), nil
}

func (m *MemoryStore) GetByAccessCode(_ context.Context, code string) (*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExam(m.exams[id]), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Exam, 0, len(m.exams))
	for _, e := range m.exams {
		result = append(result, copyExam(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, e *Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.exams[e.ID]
	if !ok {
		return ErrNotFound
	}
	if old.AccessCode != e.AccessCode {
		if _, taken := m.byCode[e.AccessCode]; taken {
			return ErrCodeTaken
		}
		delete(m.byCode, old.AccessCode)
		m.byCode[e.AccessCode] = e.ID
	}
	m.exams[e.ID] = copyExam(e)
	return nil
}

func copyExam(e *Exam) *Exam {
	cp := *e
	cp.Whitelist = make(Whitelist, len(e.Whitelist))
	copy(cp.Whitelist, e.Whitelist)
	return &cp
}
