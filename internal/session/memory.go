package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
)

// MemoryStore is a thread-safe in-memory session store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	ttl      time.Duration
	now      Clock
}

// NewMemoryStore creates an empty store with the given sliding window.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(ttl, time.Now)
}

// NewMemoryStoreWithClock creates an empty store driven by clock.
func NewMemoryStoreWithClock(ttl time.Duration, clock Clock) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		ttl:      ttl,
		now:      clock,
	}
}

// Create starts a new session.
func (m *MemoryStore) Create(_ context.Context, tenantID, username, cwd string) (*domain.Session, error) {
	s := newSession(tenantID, username, cwd, m.now(), m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return s, nil
}

// Get retrieves a live session by token for tenantID.
func (m *MemoryStore) Get(_ context.Context, token, tenantID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok || s.TenantID != tenantID || s.Expired(m.now()) {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Save stores the session and refreshes its expiry.
func (m *MemoryStore) Save(_ context.Context, s *domain.Session) error {
	if s.ID == "" {
		return fmt.Errorf("session token cannot be empty")
	}
	touch(s, m.now(), m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Destroy removes a session.
func (m *MemoryStore) Destroy(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// Sweep removes expired sessions.
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
