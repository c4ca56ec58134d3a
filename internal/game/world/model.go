// Package world provides the world model consumed by the session layer:
// rooms, their directed exits, and the players located in them.
package world

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPlayerNotFound is returned when no Player exists for an identity.
var ErrPlayerNotFound = errors.New("player not found")

// ErrRoomNotFound is returned when a room name does not resolve.
var ErrRoomNotFound = errors.New("room not found")

// ErrNoSuchExit is returned when a move target is not among the current room's exits.
var ErrNoSuchExit = errors.New("no such exit")

// Player is the world record bound to an authenticated identity.
type Player struct {
	// Identity is the authenticated principal (account username) owning this player.
	Identity string
	// Name is the display name shown to other players.
	Name string
	// Room is the name of the room the player currently occupies.
	Room string
}

// Room is a named location with a description and directed exits.
type Room struct {
	// Name uniquely identifies the room and doubles as its chat channel.
	Name string
	// Description is the text shown to players in the room.
	Description string
	// Exits lists the names of rooms reachable from this one, in display order.
	Exits []string
}

// MatchExit resolves target against the room's exits, ignoring case.
//
// Postcondition: Returns (canonical exit name, true) on a match, or ("", false).
func (r Room) MatchExit(target string) (string, bool) {
	target = strings.TrimSpace(target)
	for _, exit := range r.Exits {
		if strings.EqualFold(exit, target) {
			return exit, true
		}
	}
	return "", false
}

// RoomView is a room together with the display names of the players in it.
type RoomView struct {
	Room
	// Occupants lists player names in roster order, excluding the requesting player.
	Occupants []string
}

// Store is the world store surface the session layer depends on.
// Implementations must make MovePlayer atomic with respect to reads of the same player.
type Store interface {
	// Player returns the player bound to identity, or ErrPlayerNotFound.
	Player(ctx context.Context, identity string) (Player, error)
	// Room returns the named room with its roster, omitting the player named exclude.
	Room(ctx context.Context, name, exclude string) (RoomView, error)
	// MovePlayer matches target against the exits of the player's current room and,
	// on success, reassigns the player and commits. Returns ErrNoSuchExit on no match.
	MovePlayer(ctx context.Context, identity, target string) (Player, error)
}

// World is a complete world definition: every room and every player record.
type World struct {
	Rooms   []Room
	Players []Player
}

// Validate checks world invariants.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (w *World) Validate() error {
	rooms := make(map[string]bool, len(w.Rooms))
	for _, r := range w.Rooms {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("room name must not be empty")
		}
		if rooms[r.Name] {
			return fmt.Errorf("duplicate room name %q", r.Name)
		}
		rooms[r.Name] = true
	}
	for _, r := range w.Rooms {
		seen := make(map[string]bool, len(r.Exits))
		for _, exit := range r.Exits {
			if !rooms[exit] {
				return fmt.Errorf("room %q: exit targets unknown room %q", r.Name, exit)
			}
			key := strings.ToLower(exit)
			if seen[key] {
				return fmt.Errorf("room %q: exit %q listed twice", r.Name, exit)
			}
			seen[key] = true
		}
	}

	identities := make(map[string]bool, len(w.Players))
	names := make(map[string]bool, len(w.Players))
	for _, p := range w.Players {
		if p.Identity == "" {
			return fmt.Errorf("player identity must not be empty")
		}
		if identities[p.Identity] {
			return fmt.Errorf("duplicate player identity %q", p.Identity)
		}
		identities[p.Identity] = true
		if p.Name == "" {
			return fmt.Errorf("player %q: name must not be empty", p.Identity)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate player name %q", p.Name)
		}
		names[p.Name] = true
		if !rooms[p.Room] {
			return fmt.Errorf("player %q: unknown room %q", p.Identity, p.Room)
		}
	}
	return nil
}
