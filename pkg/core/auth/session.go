//
//  Copyright © Manetu Inc. All rights reserved.
//

package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a server-side session created after a successful login.
type Session struct {
	ID       string
	Username string
	Groups   []string
	Expiry   time.Time
}

// SessionManager keeps server-side sessions in process memory, keyed by the
// opaque id carried in the session cookie. Safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewSessionManager creates a session manager whose sessions live for ttl.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create opens a session for the given username and groups.
func (m *SessionManager) Create(username string, groups []string) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Username: username,
		Groups:   append([]string(nil), groups...),
		Expiry:   time.Now().Add(m.ttl),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with the given id, or false if it does not exist
// or has expired. Expired sessions are removed on access.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(s.Expiry) {
		m.Destroy(id)
		return nil, false
	}
	return s, true
}

// Destroy removes a session.
func (m *SessionManager) Destroy(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
