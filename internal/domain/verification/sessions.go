package verification

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned for unknown or expired session IDs
var ErrSessionNotFound = errors.New("session not found")

// Sessions tracks live scan sessions
type Sessions struct {
	engine       *Engine
	onTransition TransitionFunc
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessions creates a session registry
func NewSessions(engine *Engine, onTransition TransitionFunc, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		engine:       engine,
		onTransition: onTransition,
		logger:       logger,
		sessions:     make(map[string]*Session),
	}
}

// Create opens a new idle session
func (m *Sessions) Create() *Session {
	s := NewSession(uuid.New().String(), m.engine, m.onTransition)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Debug("scan session created", zap.String("session_id", s.ID()))
	return s
}

// Get returns a session by ID
func (m *Sessions) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close removes a session
func (m *Sessions) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Prune drops sessions idle for longer than maxIdle and returns how many
// were removed.
func (m *Sessions) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.lastActive().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("pruned idle scan sessions", zap.Int("removed", removed))
	}
	return removed
}
