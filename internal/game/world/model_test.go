package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validTestWorld() *World {
	return &World{
		Rooms: []Room{
			{Name: "entrance", Description: "A cold stone archway.", Exits: []string{"hallway"}},
			{Name: "hallway", Description: "A long, dim hallway.", Exits: []string{"entrance", "Great Hall"}},
			{Name: "Great Hall", Description: "Banners hang from the rafters."},
		},
		Players: []Player{
			{Identity: "alice", Name: "alice", Room: "entrance"},
			{Identity: "bob", Name: "bob", Room: "entrance"},
			{Identity: "carol", Name: "carol", Room: "hallway"},
		},
	}
}

func TestRoom_MatchExit(t *testing.T) {
	r := Room{Name: "hallway", Exits: []string{"entrance", "Great Hall"}}

	exit, ok := r.MatchExit("great hall")
	require.True(t, ok)
	assert.Equal(t, "Great Hall", exit)

	exit, ok = r.MatchExit("  ENTRANCE ")
	require.True(t, ok)
	assert.Equal(t, "entrance", exit)

	_, ok = r.MatchExit("cellar")
	assert.False(t, ok)

	_, ok = r.MatchExit("")
	assert.False(t, ok)
}

func TestWorld_ValidateOK(t *testing.T) {
	assert.NoError(t, validTestWorld().Validate())
}

func TestWorld_ValidateDuplicateRoom(t *testing.T) {
	w := validTestWorld()
	w.Rooms = append(w.Rooms, Room{Name: "entrance"})
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate room name")
}

func TestWorld_ValidateDanglingExit(t *testing.T) {
	w := validTestWorld()
	w.Rooms[0].Exits = append(w.Rooms[0].Exits, "cellar")
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown room")
}

func TestWorld_ValidateExitListedTwiceIgnoringCase(t *testing.T) {
	w := validTestWorld()
	w.Rooms = append(w.Rooms, Room{Name: "Hallway"})
	w.Rooms[0].Exits = []string{"hallway", "Hallway"}
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listed twice")
}

func TestWorld_ValidatePlayerUnknownRoom(t *testing.T) {
	w := validTestWorld()
	w.Players[0].Room = "void"
	assert.Error(t, w.Validate())
}

func TestWorld_ValidateDuplicateIdentity(t *testing.T) {
	w := validTestWorld()
	w.Players = append(w.Players, Player{Identity: "alice", Name: "alice2", Room: "entrance"})
	assert.Error(t, w.Validate())
}

// Property: MatchExit accepts every case variant of every exit and returns the canonical name.
func TestPropertyMatchExitCaseInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		exits := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 1, 5, rapid.ID[string]).Draw(t, "exits")
		r := Room{Name: "origin", Exits: exits}
		idx := rapid.IntRange(0, len(exits)-1).Draw(t, "idx")

		mask := rapid.SliceOfN(rapid.Bool(), len(exits[idx]), len(exits[idx])).Draw(t, "mask")
		variant := []rune(exits[idx])
		for i, upper := range mask {
			if upper {
				variant[i] = variant[i] - 'a' + 'A'
			}
		}

		got, ok := r.MatchExit(string(variant))
		if !ok || got != exits[idx] {
			t.Fatalf("MatchExit(%q) = (%q, %v), want (%q, true)", string(variant), got, ok, exits[idx])
		}
	})
}
