package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many sessions")
)

// Manager owns the live sessions. Sessions idle for longer than the TTL
// are closed by the sweeper started with Run.
type Manager struct {
	deps        Deps
	ttl         time.Duration
	maxSessions int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. maxSessions <= 0 means unlimited, ttl <= 0
// disables expiry.
func NewManager(deps Deps, ttl time.Duration, maxSessions int) *Manager {
	return &Manager{
		deps:        deps.withDefaults(),
		ttl:         ttl,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new session with default records and style
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	s, err := New(id, m.deps, nil)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	m.deps.Metrics.SetActiveSessions(len(m.sessions))

	m.deps.Logger.Debug("Session created", zap.String("session_id", id))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete closes and forgets a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.deps.Metrics.SetActiveSessions(len(m.sessions))
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Close()
	m.deps.Logger.Debug("Session deleted", zap.String("session_id", id))
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.deps.Clock.Now().Add(-m.ttl)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IdleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.deps.Metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		m.deps.Logger.Info("Expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done
func (m *Manager) Run(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := m.deps.Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every session
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.deps.Metrics.SetActiveSessions(0)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
