package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/protocol"
)

type fakeActor struct {
	calls []string
	args  []string
	panic bool
}

func (f *fakeActor) Leave(context.Context) Result {
	f.calls = append(f.calls, NameLeave)
	return Reply("left")
}

func (f *fakeActor) Send(_ context.Context, text string) Result {
	f.calls = append(f.calls, NameSend)
	f.args = append(f.args, text)
	return NoReply
}

func (f *fakeActor) Look(context.Context) Result {
	if f.panic {
		panic("boom")
	}
	f.calls = append(f.calls, NameLook)
	return Reply("a room")
}

func (f *fakeActor) Go(_ context.Context, target string) Result {
	f.calls = append(f.calls, NameGo)
	f.args = append(f.args, target)
	return Fail(Rejection("nope"))
}

func TestDefaultDispatcher_Summary(t *testing.T) {
	d := DefaultDispatcher()
	assert.Equal(t, "options: help, send, leave, look, go <room>", d.Summary())
	assert.Len(t, d.Commands(), 5)
}

func TestResolve_CanonicalAndAlias(t *testing.T) {
	d := DefaultDispatcher()

	cmd, ok := d.Resolve("look")
	require.True(t, ok)
	assert.Equal(t, NameLook, cmd.Name)

	cmd, ok = d.Resolve("say")
	require.True(t, ok)
	assert.Equal(t, NameSend, cmd.Name)

	cmd, ok = d.Resolve("  GO ")
	require.True(t, ok)
	assert.Equal(t, NameGo, cmd.Name)

	_, ok = d.Resolve("dance")
	assert.False(t, ok)
}

func TestNewDispatcher_DuplicateName(t *testing.T) {
	_, err := NewDispatcher([]Command{
		{Name: "look", Handler: handleLook},
		{Name: "look", Handler: handleLook},
	})
	assert.Error(t, err)
}

func TestNewDispatcher_AliasCollision(t *testing.T) {
	_, err := NewDispatcher([]Command{
		{Name: "look", Aliases: []string{"l"}, Handler: handleLook},
		{Name: "leave", Aliases: []string{"l"}, Handler: handleLeave},
	})
	assert.Error(t, err)

	_, err = NewDispatcher([]Command{
		{Name: "look", Aliases: []string{"go"}, Handler: handleLook},
		{Name: "go", Handler: handleGo},
	})
	assert.Error(t, err)
}

func TestNewDispatcher_MissingHandler(t *testing.T) {
	_, err := NewDispatcher([]Command{{Name: "look"}})
	assert.Error(t, err)
}

func TestDispatch_RoutesToActor(t *testing.T) {
	d := DefaultDispatcher()
	a := &fakeActor{}
	ctx := context.Background()

	res := d.Dispatch(ctx, a, protocol.Inbound{Command: "send", Message: protocol.Words{"hello", "all"}})
	assert.False(t, res.Failed())
	_, ok := res.Frame()
	assert.False(t, ok, "send replies through the room, not directly")

	res = d.Dispatch(ctx, a, protocol.Inbound{Command: "go", Message: protocol.Words{"Great", "Hall"}})
	frame, ok := res.Frame()
	require.True(t, ok)
	assert.Equal(t, "nope", frame.Error)

	d.Dispatch(ctx, a, protocol.Inbound{Command: "leave"})
	d.Dispatch(ctx, a, protocol.Inbound{Command: "look"})

	assert.Equal(t, []string{NameSend, NameGo, NameLeave, NameLook}, a.calls)
	assert.Equal(t, []string{"hello all", "Great Hall"}, a.args)
}

func TestDispatch_Help(t *testing.T) {
	d := DefaultDispatcher()
	res := d.Dispatch(context.Background(), &fakeActor{}, protocol.Inbound{Command: "help"})
	frame, ok := res.Frame()
	require.True(t, ok)
	assert.Equal(t, d.Summary(), frame.Message)
}

func TestDispatch_Unknown(t *testing.T) {
	d := DefaultDispatcher()
	a := &fakeActor{}
	res := d.Dispatch(context.Background(), a, protocol.Inbound{Command: "dance"})
	frame, ok := res.Frame()
	require.True(t, ok)
	assert.Equal(t, "I don't understand `dance`, try help.", ansi.Strip(frame.Message))
	assert.Empty(t, a.calls)
}

func TestDispatch_PanicBecomesError(t *testing.T) {
	d := DefaultDispatcher()
	res := d.Dispatch(context.Background(), &fakeActor{panic: true}, protocol.Inbound{Command: "look"})
	require.True(t, res.Failed())

	var pe *PanicError
	require.True(t, errors.As(res.Err, &pe))
	assert.Equal(t, NameLook, pe.Command)

	frame, ok := res.Frame()
	require.True(t, ok)
	assert.Equal(t, "internal error", frame.Error)
}

func TestResultFrame(t *testing.T) {
	_, ok := NoReply.Frame()
	assert.False(t, ok)

	frame, ok := Fail(errors.New("db down")).Frame()
	require.True(t, ok)
	assert.Equal(t, "internal error", frame.Error)

	wrapped := Fail(errors.Join(errors.New("context"), Rejection("rejected: you are not online")))
	frame, ok = wrapped.Frame()
	require.True(t, ok)
	assert.Equal(t, "rejected: you are not online", frame.Error)
}

func TestPropertyUnknownTokensNeverReachActor(t *testing.T) {
	d := DefaultDispatcher()
	rapid.Check(t, func(t *rapid.T) {
		token := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "token")
		if _, ok := d.Resolve(token); ok {
			t.Skip("known command")
		}
		a := &fakeActor{}
		res := d.Dispatch(context.Background(), a, protocol.Inbound{Command: token})
		if len(a.calls) != 0 {
			t.Fatalf("unknown token %q reached actor", token)
		}
		if res.Failed() {
			t.Fatalf("unknown token %q reported as failure", token)
		}
	})
}
