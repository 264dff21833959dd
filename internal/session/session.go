// Package session holds the operator's login sessions.
//
// A session is created at login, refreshed on every authenticated request,
// expires after a period of inactivity and is destroyed on logout. Expiry is
// checked lazily when a session is used; Sweep removes stale entries.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTimeout is the inactivity window after which a session expires.
const DefaultIdleTimeout = 30 * time.Second

var (
	// ErrNoSession is returned for ids that were never issued or were destroyed.
	ErrNoSession = errors.New("no such session")

	// ErrExpired is returned when the session outlived the idle timeout.
	ErrExpired = errors.New("session expired")
)

// Session is one authenticated operator.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	LastSeen  time.Time
}

// Manager tracks live sessions in memory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	now      func() time.Time
}

// NewManager creates a manager that expires sessions after idle of inactivity.
func NewManager(idle time.Duration) *Manager {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idle:     idle,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for activity tracking.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// IdleTimeout returns the inactivity window.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idle
}

// Create starts a session for username.
func (m *Manager) Create(username string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		LastSeen:  now,
	}
	m.sessions[s.ID] = s
	return *s
}

// Touch validates the session and records activity.
// An expired session is removed and ErrExpired is returned.
func (m *Manager) Touch(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNoSession
	}

	now := m.now()
	if now.Sub(s.LastSeen) > m.idle {
		delete(m.sessions, id)
		return Session{}, ErrExpired
	}

	s.LastSeen = now
	return *s, nil
}

// Destroy ends the session. Unknown ids are ignored.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Sweep removes every expired session and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.idle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
