package world

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a Store held entirely in process memory.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	rooms   map[string]Room
	players []*Player          // roster order
	byID    map[string]*Player // identity → player
}

// NewMemoryStore builds a MemoryStore from a world definition.
//
// Precondition: w must be non-nil.
// Postcondition: Returns a populated store, or an error if w fails validation.
func NewMemoryStore(w *World) (*MemoryStore, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("validating world: %w", err)
	}

	s := &MemoryStore{
		rooms:   make(map[string]Room, len(w.Rooms)),
		players: make([]*Player, 0, len(w.Players)),
		byID:    make(map[string]*Player, len(w.Players)),
	}
	for _, r := range w.Rooms {
		r.Exits = append([]string(nil), r.Exits...)
		s.rooms[r.Name] = r
	}
	for _, p := range w.Players {
		p := p
		s.players = append(s.players, &p)
		s.byID[p.Identity] = &p
	}
	return s, nil
}

// Player implements Store.
func (s *MemoryStore) Player(_ context.Context, identity string) (Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[identity]
	if !ok {
		return Player{}, fmt.Errorf("identity %q: %w", identity, ErrPlayerNotFound)
	}
	return *p, nil
}

// Room implements Store.
func (s *MemoryStore) Room(_ context.Context, name, exclude string) (RoomView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[name]
	if !ok {
		return RoomView{}, fmt.Errorf("room %q: %w", name, ErrRoomNotFound)
	}

	view := RoomView{Room: r}
	view.Exits = append([]string(nil), r.Exits...)
	for _, p := range s.players {
		if p.Room == name && p.Name != exclude {
			view.Occupants = append(view.Occupants, p.Name)
		}
	}
	return view, nil
}

// MovePlayer implements Store. The exit lookup and reassignment happen under
// one write lock.
func (s *MemoryStore) MovePlayer(_ context.Context, identity, target string) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[identity]
	if !ok {
		return Player{}, fmt.Errorf("identity %q: %w", identity, ErrPlayerNotFound)
	}
	from, ok := s.rooms[p.Room]
	if !ok {
		return Player{}, fmt.Errorf("room %q: %w", p.Room, ErrRoomNotFound)
	}
	dest, ok := from.MatchExit(target)
	if !ok {
		return Player{}, fmt.Errorf("%q from %q: %w", target, from.Name, ErrNoSuchExit)
	}

	p.Room = dest
	return *p, nil
}

// RoomCount returns the number of rooms in the store.
func (s *MemoryStore) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// PlayerCount returns the number of player records in the store.
func (s *MemoryStore) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}
