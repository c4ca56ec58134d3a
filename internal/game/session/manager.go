package session

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Observer receives session lifecycle activity for instrumentation.
type Observer interface {
	SessionOpened()
	SessionRejected(reason string)
	SessionClosed()
	CommandHandled(command string, failed bool)
}

type nopObserver struct{}

func (nopObserver) SessionOpened()              {}
func (nopObserver) SessionRejected(string)      {}
func (nopObserver) SessionClosed()              {}
func (nopObserver) CommandHandled(string, bool) {}

// Manager creates sessions and tracks the connected ones.
// All methods are safe for concurrent use.
type Manager struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session // session ID → session
}

// NewManager creates an empty Manager whose sessions share deps.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		deps:     deps.withDefaults(),
		sessions: make(map[string]*Session),
	}
	m.deps.evict = func(s *Session) {
		m.Close(s, CloseOverflow)
	}
	return m
}

// Open creates a session for identity and connects it.
//
// Postcondition: On success the session is Active and tracked. On failure the
// session is returned disconnected, with anything already queued for the
// client still readable from its outbox, together with the error.
func (m *Manager) Open(ctx context.Context, identity string) (*Session, error) {
	s := New(identity, m.deps)
	if err := s.Connect(ctx); err != nil {
		m.deps.Observer.SessionRejected(rejectReason(err))
		s.Disconnect(CloseRejected)
		return s, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.deps.Observer.SessionOpened()
	return s, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNoPlayer):
		return "no_player"
	default:
		return "error"
	}
}

// Close disconnects s and stops tracking it. Closing an untracked or already
// closed session is a no-op apart from the disconnect.
func (m *Manager) Close(s *Session, code int) {
	m.mu.Lock()
	_, tracked := m.sessions[s.ID()]
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	s.Disconnect(code)
	if tracked {
		m.deps.Observer.SessionClosed()
	}
}

// CloseAll disconnects every tracked session.
func (m *Manager) CloseAll(code int) {
	for _, s := range m.Sessions() {
		m.Close(s, code)
	}
}

// Get returns the tracked session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ByIdentity returns every tracked session authenticated as identity.
func (m *Manager) ByIdentity(identity string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.Identity() == identity {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Sessions returns a snapshot of every tracked session.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
