package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one connected status-stream client.
type Session struct {
	ID        string
	Conn      *websocket.Conn
	CreatedAt time.Time
	mu        sync.Mutex
}

// SessionManager tracks status-stream clients.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Create registers a session for a WebSocket connection
func (m *SessionManager) Create(conn *websocket.Conn) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := &Session{
		ID:        uuid.NewString(),
		Conn:      conn,
		CreatedAt: time.Now(),
	}

	m.sessions[session.ID] = session
	return session
}

// Get retrieves a session by ID
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	return session, ok
}

// Remove closes and forgets a session
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[id]; ok {
		_ = session.Conn.Close()
		delete(m.sessions, id)
	}
}

// Count returns the number of active sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast sends a message to all sessions and drops the ones that fail.
// It returns the number of sessions reached.
func (m *SessionManager) Broadcast(message []byte) int {
	m.mu.RLock()
	var failed []string
	sent := 0
	for id, session := range m.sessions {
		if err := session.Send(message); err != nil {
			failed = append(failed, id)
			continue
		}
		sent++
	}
	m.mu.RUnlock()

	for _, id := range failed {
		m.Remove(id)
	}
	return sent
}

// Send writes a text frame to this session
func (s *Session) Send(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.Conn.WriteMessage(websocket.TextMessage, message)
}
