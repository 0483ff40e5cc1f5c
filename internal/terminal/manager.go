// Package terminal implements the tenant web terminal: session operations
// over a session store, and the WebSocket transport that drives them.
package terminal

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the WebSocket connections attached to terminal
// sessions so closing a session can drop its sockets.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new connection registry.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the connection attached to a tenant's session.
func (m *SessionManager) GetActive(tenantID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[tenantID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register attaches conn to a tenant's session, replacing any earlier socket.
func (m *SessionManager) Register(tenantID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	if _, exists := m.active[tenantID]; !exists {
		m.active[tenantID] = make(map[string]*websocket.Conn)
	}
	replaced := m.active[tenantID][sessionID]
	m.active[tenantID][sessionID] = conn
	m.mu.Unlock()

	slog.Info("Terminal socket registered", "tenant_id", tenantID, "session_id", sessionID)
	if replaced != nil && replaced != conn {
		// The close handshake waits on the old peer; neither the registry
		// nor the new socket waits with it.
		go func() { _ = replaced.Close(websocket.StatusNormalClosure, "session replaced") }()
	}
}

// Unregister detaches conn if it is still the session's current socket.
func (m *SessionManager) Unregister(tenantID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[tenantID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, tenantID)
			}
			slog.Info("Terminal socket unregistered", "tenant_id", tenantID, "session_id", sessionID)
		}
	}
}

// CloseSession closes and forgets the socket attached to one session.
func (m *SessionManager) CloseSession(tenantID, sessionID string) {
	m.mu.Lock()
	conn, ok := m.active[tenantID][sessionID]
	if ok {
		delete(m.active[tenantID], sessionID)
		if len(m.active[tenantID]) == 0 {
			delete(m.active, tenantID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	// The close handshake waits on the peer, so it runs outside the lock.
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	slog.Info("Terminal socket closed", "tenant_id", tenantID, "session_id", sessionID)
}

// Count returns the number of attached sockets.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
