package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/protocol"
	"github.com/twentytwenty/mud/internal/game/room"
	"github.com/twentytwenty/mud/internal/game/world"
)

type countingStore struct {
	world.Store
	moves   atomic.Int32
	roomErr error
}

func (c *countingStore) MovePlayer(ctx context.Context, identity, target string) (world.Player, error) {
	c.moves.Add(1)
	return c.Store.MovePlayer(ctx, identity, target)
}

func (c *countingStore) Room(ctx context.Context, name, exclude string) (world.RoomView, error) {
	if c.roomErr != nil {
		return world.RoomView{}, c.roomErr
	}
	return c.Store.Room(ctx, name, exclude)
}

type harness struct {
	store *countingStore
	rooms *room.Registry
	mgr   *Manager
}

func testWorld() *world.World {
	return &world.World{
		Rooms: []world.Room{
			{Name: "entrance", Description: "A cold stone archway.", Exits: []string{"hallway"}},
			{Name: "hallway", Description: "A long, torchlit hallway.", Exits: []string{"entrance", "Great Hall"}},
			{Name: "Great Hall", Description: "A vaulted hall.", Exits: []string{"hallway"}},
		},
		Players: []world.Player{
			{Identity: "alice", Name: "Alice", Room: "entrance"},
			{Identity: "bob", Name: "Bob", Room: "entrance"},
			{Identity: "carol", Name: "Carol", Room: "hallway"},
		},
	}
}

func newHarnessWithLogger(logger *zap.Logger) (*harness, error) {
	ms, err := world.NewMemoryStore(testWorld())
	if err != nil {
		return nil, err
	}
	h := &harness{
		store: &countingStore{Store: ms},
		rooms: room.NewRegistry(room.WithLogger(logger)),
	}
	h.mgr = NewManager(Deps{
		Store:      h.store,
		Rooms:      h.rooms,
		Logger:     logger,
		GlobalRoom: "dungeon",
		OutboxSize: 64,
	})
	return h, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h, err := newHarnessWithLogger(zaptest.NewLogger(t))
	require.NoError(t, err)
	return h
}

// open connects identity and discards the welcome frame.
func (h *harness) open(t *testing.T, identity string) *Session {
	t.Helper()
	s, err := h.mgr.Open(context.Background(), identity)
	require.NoError(t, err)
	drain(t, s)
	return s
}

func dispatch(t *testing.T, s *Session, command string, words ...string) {
	t.Helper()
	require.NoError(t, s.Dispatch(context.Background(), protocol.Inbound{Command: command, Message: words}))
}

func drainRaw(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case data, ok := <-s.Outbox().Frames():
			if !ok {
				return out
			}
			out = append(out, data)
		default:
			return out
		}
	}
}

func drain(t *testing.T, s *Session) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for _, data := range drainRaw(s) {
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		out = append(out, f)
	}
	return out
}

func lastMessage(t *testing.T, s *Session) string {
	t.Helper()
	frames := drain(t, s)
	require.NotEmpty(t, frames)
	return ansi.Strip(frames[len(frames)-1].Message)
}

func TestConnect_WelcomeThenSubscriptions(t *testing.T) {
	h := newHarness(t)
	s, err := h.mgr.Open(context.Background(), "alice")
	require.NoError(t, err)

	frames := drain(t, s)
	require.Len(t, frames, 1)
	assert.Equal(t, ansi.Banner, ansi.Strip(frames[0].Message))

	assert.Equal(t, StateActive, s.State())
	assert.True(t, s.Online())
	assert.Equal(t, "entrance", s.Player().Room)
	assert.Equal(t, []string{"dungeon", "entrance"}, s.Subscriptions())
	assert.True(t, h.rooms.IsSubscribed("dungeon", s.ID()))
	assert.True(t, h.rooms.IsSubscribed("entrance", s.ID()))
	assert.Equal(t, 1, h.mgr.Count())
}

func TestConnect_NoPlayer(t *testing.T) {
	h := newHarness(t)
	s, err := h.mgr.Open(context.Background(), "mallory")
	require.ErrorIs(t, err, ErrNoPlayer)

	frames := drain(t, s)
	require.Len(t, frames, 1)
	assert.Equal(t, "Current User has no Player!", frames[0].Message)
	assert.True(t, s.Outbox().IsClosed())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, h.rooms.GroupCount())
	assert.Equal(t, 0, h.mgr.Count())
}

func TestConnect_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	s, err := h.mgr.Open(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, drain(t, s))
	assert.Equal(t, 0, h.rooms.GroupCount())
}

func TestConnect_OccupantReceivesExactlyOneEnter(t *testing.T) {
	h := newHarness(t)
	bob := h.open(t, "bob")
	alice := h.open(t, "alice")

	assert.Equal(t, []protocol.Frame{protocol.Presence(protocol.MsgTypeEnter, "alice")}, drain(t, bob))
	assert.Empty(t, drain(t, alice), "a session never sees its own ENTER")
}

func TestConnect_GlobalRoomCarriesNoPresence(t *testing.T) {
	h := newHarness(t)
	carol := h.open(t, "carol")
	alice := h.open(t, "alice")

	assert.ElementsMatch(t, []string{"alice", "carol"}, h.rooms.Members("dungeon"))
	assert.Empty(t, drain(t, carol), "a join elsewhere is not announced world-wide")

	h.mgr.Close(alice, CloseNormal)
	assert.Empty(t, drain(t, carol))
}

func TestConnect_SameIdentityTwice(t *testing.T) {
	h := newHarness(t)
	first := h.open(t, "alice")
	bob := h.open(t, "bob")
	drain(t, first)

	second := h.open(t, "alice")
	assert.Empty(t, drain(t, first), "presence is excluded by identity, not connection")
	assert.Equal(t, []protocol.Frame{protocol.Presence(protocol.MsgTypeEnter, "alice")}, drain(t, bob))
	assert.Len(t, h.mgr.ByIdentity("alice"), 2)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestGo_MovesAndAnnounces(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	carol := h.open(t, "carol")
	drain(t, alice)

	dispatch(t, alice, "go", "HALLWAY")

	assert.Equal(t, []protocol.Frame{protocol.Presence(protocol.MsgTypeExit, "alice")}, drain(t, bob))
	assert.Equal(t, []protocol.Frame{protocol.Presence(protocol.MsgTypeEnter, "alice")}, drain(t, carol))

	desc := lastMessage(t, alice)
	assert.Contains(t, desc, "You are in hallway")
	assert.Contains(t, desc, "Players here: Carol")
	assert.NotContains(t, desc, "Alice")
	assert.Contains(t, desc, "Exits: entrance, Great Hall")

	assert.Equal(t, "hallway", alice.Player().Room)
	assert.Equal(t, []string{"dungeon", "hallway"}, alice.Subscriptions())
	assert.False(t, h.rooms.IsSubscribed("entrance", alice.ID()))
}

func TestGo_InvalidRoomChangesNothing(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	drain(t, alice)

	dispatch(t, alice, "go", "kitchen")

	assert.Equal(t, "Invalid room.", lastMessage(t, alice))
	assert.Equal(t, "entrance", alice.Player().Room)
	assert.Equal(t, []string{"dungeon", "entrance"}, alice.Subscriptions())
	assert.Empty(t, drain(t, bob))
}

func TestGo_NoTarget(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")

	dispatch(t, alice, "go")

	assert.Equal(t, "No room specified.", lastMessage(t, alice))
	assert.Equal(t, int32(0), h.store.moves.Load())
}

func TestGo_WhileOfflineDoesNotResubscribe(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	carol := h.open(t, "carol")

	dispatch(t, alice, "leave")
	dispatch(t, alice, "go", "hallway")

	assert.Equal(t, "hallway", alice.Player().Room)
	assert.Equal(t, []string{"dungeon"}, alice.Subscriptions())
	assert.Empty(t, drain(t, carol))
	assert.Contains(t, lastMessage(t, alice), "You are in hallway")
}

func TestSend_EchoesToWholeRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	carol := h.open(t, "carol")
	drain(t, alice)

	dispatch(t, alice, "send", "hello", "there")

	for _, s := range []*Session{alice, bob} {
		frames := drain(t, s)
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.MsgTypeChat, frames[0].MsgType)
		assert.Equal(t, "alice", frames[0].Username)
		assert.Equal(t, `alice says, "hello there"`, ansi.Strip(frames[0].Message))
	}
	assert.Empty(t, drain(t, carol), "chat stays in the location room")
}

func TestSend_Offline(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	drain(t, alice)

	dispatch(t, alice, "leave")
	assert.Equal(t, []protocol.Frame{protocol.Presence(protocol.MsgTypeExit, "alice")}, drain(t, bob))
	assert.False(t, alice.Online())
	drain(t, alice)

	dispatch(t, alice, "send", "anyone?")

	frames := drain(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, "rejected: you are not online", frames[0].Error)
	assert.Empty(t, drain(t, bob))
}

func TestSend_Empty(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	drain(t, alice)

	dispatch(t, alice, "send")

	assert.Equal(t, "Nothing to say.", lastMessage(t, alice))
	assert.Empty(t, drain(t, bob))
}

func TestLeave_KeepsGlobalRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")

	dispatch(t, alice, "leave")
	assert.Equal(t, []string{"dungeon"}, alice.Subscriptions())
	assert.Contains(t, lastMessage(t, alice), "go offline")

	dispatch(t, alice, "leave")
	assert.Equal(t, "You are already offline.", lastMessage(t, alice))
	assert.Equal(t, []string{"dungeon"}, alice.Subscriptions())
}

func TestLook_IsDeterministic(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	h.open(t, "bob")
	drain(t, alice)

	dispatch(t, alice, "look")
	dispatch(t, alice, "look")

	frames := drainRaw(alice)
	require.Len(t, frames, 2)
	assert.Equal(t, frames[0], frames[1])
}

func TestLookAndHelp_AllowedOffline(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	dispatch(t, alice, "leave")
	drain(t, alice)

	dispatch(t, alice, "look")
	assert.Contains(t, lastMessage(t, alice), "You are in entrance")

	dispatch(t, alice, "help")
	assert.Equal(t, "options: help, send, leave, look, go <room>", lastMessage(t, alice))
}

func TestUnknown_HasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	drain(t, alice)

	dispatch(t, alice, "dance")

	assert.Equal(t, "I don't understand `dance`, try help.", lastMessage(t, alice))
	assert.Empty(t, drain(t, bob))
	assert.Equal(t, int32(0), h.store.moves.Load())
	assert.Equal(t, "entrance", alice.Player().Room)
}

func TestDispatch_StoreFailureReportedAndSessionSurvives(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	h.store.roomErr = errors.New("connection reset")

	dispatch(t, alice, "look")
	frames := drain(t, alice)
	require.Len(t, frames, 1)
	assert.Equal(t, "internal error", frames[0].Error)

	dispatch(t, alice, "help")
	assert.Equal(t, "options: help, send, leave, look, go <room>", lastMessage(t, alice))
	assert.Equal(t, StateActive, alice.State())
}

func TestDisconnect_ReleasesEverySubscription(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")

	h.mgr.Close(alice, CloseNormal)

	assert.Equal(t, []protocol.Frame{protocol.Presence(protocol.MsgTypeExit, "alice")}, drain(t, bob))
	assert.Equal(t, []string{"bob"}, h.rooms.Members("entrance"))
	assert.Equal(t, []string{"bob"}, h.rooms.Members("dungeon"))
	assert.Empty(t, alice.Subscriptions())
	assert.True(t, alice.Outbox().IsClosed())
	assert.Equal(t, StateDisconnected, alice.State())
	assert.ErrorIs(t, alice.Dispatch(context.Background(), protocol.Inbound{Command: "look"}), ErrClosed)
	assert.Equal(t, 1, h.mgr.Count())

	h.mgr.Close(alice, CloseNormal)
	assert.Empty(t, drain(t, bob))
}

func TestDisconnect_OfflineSessionSendsNoExit(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "alice")
	bob := h.open(t, "bob")
	dispatch(t, alice, "leave")
	drain(t, bob)

	h.mgr.Close(alice, CloseNormal)

	assert.Empty(t, drain(t, bob))
	assert.Equal(t, []string{"bob"}, h.rooms.Members("dungeon"))
}

func TestDeliver_OverflowEvictsSlowSession(t *testing.T) {
	ms, err := world.NewMemoryStore(testWorld())
	require.NoError(t, err)
	reg := room.NewRegistry(room.WithLogger(zaptest.NewLogger(t)))
	mgr := NewManager(Deps{Store: ms, Rooms: reg, Logger: zaptest.NewLogger(t), OutboxSize: 3})

	bob, err := mgr.Open(context.Background(), "bob")
	require.NoError(t, err)
	alice, err := mgr.Open(context.Background(), "alice")
	require.NoError(t, err)
	drainRaw(alice)
	drainRaw(bob)

	// bob stops reading; his outbox holds three frames.
	var seenByAlice []protocol.Frame
	for _, word := range []string{"one", "two", "three", "four", "five"} {
		dispatch(t, alice, "send", word)
		seenByAlice = append(seenByAlice, drain(t, alice)...)
	}

	assert.Eventually(t, func() bool { return bob.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, CloseOverflow, bob.CloseCode())
	assert.True(t, bob.Outbox().Overflowed())
	assert.False(t, reg.IsSubscribed("entrance", bob.ID()))
	assert.False(t, reg.IsSubscribed("dungeon", bob.ID()))
	assert.Equal(t, 1, mgr.Count())

	var got []string
	for _, f := range drain(t, bob) {
		got = append(got, ansi.Strip(f.Message))
	}
	assert.Equal(t, []string{`alice says, "one"`, `alice says, "two"`, `alice says, "three"`}, got,
		"the slow session keeps a gap-free prefix and then nothing")

	seenByAlice = append(seenByAlice, drain(t, alice)...)
	assert.Contains(t, seenByAlice, protocol.Presence(protocol.MsgTypeExit, "bob"))

	dispatch(t, alice, "send", "six")
	assert.Len(t, drain(t, alice), 1)
	assert.Empty(t, drainRaw(bob))
}

func TestDisconnect_OverflowCodeWins(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "alice")
	for i := 0; i <= 64; i++ {
		_ = s.Outbox().Push([]byte("{}"))
	}
	require.True(t, s.Outbox().Overflowed())
	assert.Equal(t, CloseOverflow, s.CloseCode())

	h.mgr.Close(s, CloseNormal)
	assert.Equal(t, CloseOverflow, s.CloseCode())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestPropertyLocationSubscriptionMatchesPlayerRoom(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h, err := newHarnessWithLogger(zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}
		s, err := h.mgr.Open(context.Background(), "alice")
		if err != nil {
			t.Fatal(err)
		}

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			in := rapid.SampledFrom([]protocol.Inbound{
				{Command: "go", Message: protocol.Words{"hallway"}},
				{Command: "go", Message: protocol.Words{"entrance"}},
				{Command: "go", Message: protocol.Words{"great", "hall"}},
				{Command: "go", Message: protocol.Words{"nowhere"}},
				{Command: "leave"},
				{Command: "look"},
				{Command: "send", Message: protocol.Words{"hi"}},
			}).Draw(t, "command")
			if err := s.Dispatch(context.Background(), in); err != nil {
				t.Fatal(err)
			}
			drainRaw(s)

			var locations []string
			for _, name := range s.Subscriptions() {
				if name != "dungeon" {
					locations = append(locations, name)
				}
			}
			switch {
			case len(locations) == 0:
				if s.Online() {
					t.Fatalf("online session has no location room")
				}
			case len(locations) == 1:
				if locations[0] != s.Player().Room {
					t.Fatalf("subscribed to %q, player in %q", locations[0], s.Player().Room)
				}
				if !h.rooms.IsSubscribed(locations[0], s.ID()) {
					t.Fatalf("registry disagrees about %q", locations[0])
				}
			default:
				t.Fatalf("subscribed to several location rooms: %v", locations)
			}
		}
	})
}
