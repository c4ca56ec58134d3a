package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/world"
)

func TestOutbox_PushAndRead(t *testing.T) {
	o := NewOutbox("s1", 2)
	require.NoError(t, o.Push([]byte("a")))
	require.NoError(t, o.Push([]byte("b")))
	assert.False(t, o.Overflowed())
	assert.ErrorIs(t, o.Push([]byte("c")), ErrOutboxFull)

	assert.Equal(t, []byte("a"), <-o.Frames())
}

func TestOutbox_OverflowClosesWithoutGaps(t *testing.T) {
	o := NewOutbox("s1", 2)
	require.NoError(t, o.Push([]byte("a")))
	require.NoError(t, o.Push([]byte("b")))
	require.ErrorIs(t, o.Push([]byte("c")), ErrOutboxFull)

	assert.True(t, o.Overflowed())
	assert.True(t, o.IsClosed())
	assert.Equal(t, []byte("a"), <-o.Frames())
	assert.ErrorIs(t, o.Push([]byte("d")), ErrOutboxClosed, "room for d does not reopen the outbox")

	var rest [][]byte
	for data := range o.Frames() {
		rest = append(rest, data)
	}
	assert.Equal(t, [][]byte{[]byte("b")}, rest)
	o.Close()
}

func TestOutbox_CloseKeepsQueuedFrames(t *testing.T) {
	o := NewOutbox("s1", 4)
	require.NoError(t, o.Push([]byte("last words")))
	o.Close()
	o.Close()

	assert.True(t, o.IsClosed())
	assert.ErrorIs(t, o.Push([]byte("late")), ErrOutboxClosed)

	data, ok := <-o.Frames()
	require.True(t, ok)
	assert.Equal(t, []byte("last words"), data)
	_, ok = <-o.Frames()
	assert.False(t, ok)
}

func TestOutbox_DefaultSize(t *testing.T) {
	o := NewOutbox("s1", 0)
	assert.Equal(t, 64, cap(o.frames))
}

func TestDescribe(t *testing.T) {
	view := world.RoomView{
		Room:      world.Room{Name: "entrance", Description: "A cold stone archway.", Exits: []string{"hallway", "cellar"}},
		Occupants: []string{"Bob", "Carol"},
	}
	assert.Equal(t,
		"You are in entrance\r\n\nA cold stone archway.\r\n\nPlayers here: Bob, Carol\r\nExits: hallway, cellar",
		ansi.Strip(Describe(view)))
}

func TestDescribe_EmptyRoom(t *testing.T) {
	view := world.RoomView{Room: world.Room{Name: "cell", Description: "Bare walls."}}
	got := ansi.Strip(Describe(view))
	assert.NotContains(t, got, "Players here")
	assert.Equal(t, "You are in cell\r\n\nBare walls.\r\n\nExits: ", got)
}

func TestPropertyOutboxNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 16).Draw(t, "size")
		pushes := rapid.IntRange(0, 40).Draw(t, "pushes")
		o := NewOutbox("s", size)
		accepted := 0
		for i := 0; i < pushes; i++ {
			if o.Push([]byte{byte(i)}) == nil {
				accepted++
			}
		}
		want := pushes
		if want > size {
			want = size
		}
		if accepted != want {
			t.Fatalf("accepted %d of %d pushes into size %d", accepted, pushes, size)
		}
	})
}
