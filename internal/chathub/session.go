package chathub

import (
	"sync"
	"time"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"
)

// State is the lifecycle state of a connection session.
type State int

const (
	// StateConnected: channel open, no identity bound yet.
	StateConnected State = iota
	// StateAnnounced: identity bound, presence registered.
	StateAnnounced
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAnnounced:
		return "announced"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one physical client channel and its binding state.
type Session struct {
	ID string

	client Client

	// lifecycle serializes announce and disconnect of this session so a
	// disconnect can never interleave with a half-done announce.
	lifecycle sync.Mutex

	mu           sync.Mutex
	state        State
	identity     string
	lastActivity time.Time
}

func newSession(id string, client Client, now time.Time) *Session {
	return &Session{
		ID:           id,
		client:       client,
		state:        StateConnected,
		lastActivity: now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the bound identity, if the session has announced.
func (s *Session) Identity() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.state == StateAnnounced
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// checkAnnounce reports whether announcing identity would change the
// session. Re-announcing the bound identity is a no-op; a different
// identity is rejected and the existing binding is kept.
func (s *Session) checkAnnounce(identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return false, apperrors.ErrUnauthorized.WithMessage("session is closed")
	case StateAnnounced:
		if s.identity == identity {
			return false, nil
		}
		return false, apperrors.Validation("session is already bound to another identity")
	}
	return true, nil
}

func (s *Session) bind(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected {
		s.state = StateAnnounced
		s.identity = identity
	}
}

// send enqueues env without blocking. It returns false when the session
// is closed or its queue is full.
func (s *Session) send(env models.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	select {
	case s.client.GetSendChannel() <- env:
		return true
	default:
		return false
	}
}

// close moves the session to StateClosed and closes the client. It
// returns the state the session was in, and false if it was already
// closed.
func (s *Session) close() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if prev == StateClosed {
		return prev, false
	}
	s.state = StateClosed
	s.client.Close()
	return prev, true
}
