package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development. It
// honors the same versioning rules as the redis store; retention eviction
// is a storage-backend concern and is not emulated here.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	live     map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		live:     make(map[string]bool),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrAlreadyExists
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	if !s.State.Terminal() {
		m.live[s.ID] = true
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cur.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, s *Session, expected uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrVersionConflict
	}

	s.Version = expected + 1
	m.sessions[s.ID] = s.Clone()
	if s.State.Terminal() {
		delete(m.live, s.ID)
	}
	return nil
}

func (m *MemoryStore) LiveIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	return ids, nil
}
