package verification

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents a scan session state
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateDecoded    State = "decoded"
	StateClassified State = "classified"
)

// Source identifies how a decoded string reached the session
type Source string

const (
	SourceCamera Source = "camera"
	SourceUpload Source = "upload"
)

// ErrInvalidTransition is returned when a start request arrives outside idle
var ErrInvalidTransition = errors.New("invalid session transition")

// TransitionFunc observes every state change of a session
type TransitionFunc func(sessionID string, from, to State)

// Session drives one verification flow: idle → capturing → decoded →
// classified. At most one classification happens between resets.
type Session struct {
	mu           sync.Mutex
	id           string
	state        State
	verdict      *Verdict
	source       Source
	engine       *Engine
	onTransition TransitionFunc
	createdAt    time.Time
	updatedAt    time.Time
}

// NewSession creates an idle session bound to an engine
func NewSession(id string, engine *Engine, onTransition TransitionFunc) *Session {
	now := time.Now().UTC()
	return &Session{
		id:           id,
		state:        StateIdle,
		engine:       engine,
		onTransition: onTransition,
		createdAt:    now,
		updatedAt:    now,
	}
}

// ID returns the session ID
func (s *Session) ID() string { return s.id }

// Snapshot is a point-in-time view of a session
type Snapshot struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Source    Source    `json:"source,omitempty"`
	Verdict   *Verdict  `json:"verdict,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns the current state and verdict
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		State:     s.state,
		Source:    s.source,
		UpdatedAt: s.updatedAt,
	}
	if s.verdict != nil {
		v := *s.verdict
		snap.Verdict = &v
	}
	return snap
}

// Start begins capturing. Only valid from idle.
func (s *Session) Start() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return s.snapshotLocked(), ErrInvalidTransition
	}
	s.transition(StateCapturing)
	return s.snapshotLocked(), nil
}

// Decode feeds a decoded identifier into the session. It is accepted only
// while capturing; decodes arriving once a result is pending, or outside a
// capture, are dropped and reported with accepted=false.
func (s *Session) Decode(ctx context.Context, identifier string, source Source) (snap Snapshot, accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing || !ValidIdentifier(identifier) {
		return s.snapshotLocked(), false
	}

	s.source = source
	s.transition(StateDecoded)
	v := s.engine.Classify(ctx, identifier)
	s.verdict = &v
	s.transition(StateClassified)
	return s.snapshotLocked(), true
}

// Stop cancels a capture without producing a verdict. It is a no-op in any
// state other than capturing.
func (s *Session) Stop() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing {
		return s.snapshotLocked(), false
	}
	s.transition(StateIdle)
	return s.snapshotLocked(), true
}

// Reset discards any verdict and returns to idle
func (s *Session) Reset() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verdict = nil
	s.source = ""
	if s.state != StateIdle {
		s.transition(StateIdle)
	}
	return s.snapshotLocked()
}

func (s *Session) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// transition must be called with mu held
func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	s.updatedAt = time.Now().UTC()
	if s.onTransition != nil {
		s.onTransition(s.id, from, to)
	}
}
