package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/skillcheck/internal/domain/model"
)

// MemoryStore keeps sessions in a map. Values are deep-copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]model.Session)}
}

// Load implements SessionStore.Load.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

// Create implements SessionStore.Create.
func (m *MemoryStore) Create(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; ok {
		return ErrExists
	}
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

// Save implements SessionStore.Save.
func (m *MemoryStore) Save(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

// ListFinalized implements SessionStore.ListFinalized, ordered by session id.
func (m *MemoryStore) ListFinalized(_ context.Context) ([]model.CompositeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.CompositeResult, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Composite != nil {
			out = append(out, s.Composite.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// ListActive implements SessionStore.ListActive.
func (m *MemoryStore) ListActive(_ context.Context) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Session
	for _, s := range m.sessions {
		if hasActiveStage(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Count implements SessionStore.Count.
func (m *MemoryStore) Count(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
