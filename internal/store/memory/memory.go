package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]store.Session
	now      func() time.Time
}

func New() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]store.Session{},
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session store.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already registered", session.ID)
	}
	if session.State == "" {
		session.State = store.SessionCreated
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.now().UTC()
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (m *MemoryStore) UpdateSessionState(ctx context.Context, sessionID string, state store.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	session.State = state
	m.sessions[sessionID] = session
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, sessionID)
	return &session, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		results = append(results, session)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID < results[j].ID
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}
