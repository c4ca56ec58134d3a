// Package command provides the static command table and the dispatcher that
// routes inbound frames to session operations.
package command

import (
	"context"

	"github.com/twentytwenty/mud/internal/game/protocol"
)

// Canonical command names.
const (
	NameHelp  = "help"
	NameSend  = "send"
	NameLeave = "leave"
	NameLook  = "look"
	NameGo    = "go"
)

// Actor is the session-side surface commands operate on.
type Actor interface {
	Leave(ctx context.Context) Result
	Send(ctx context.Context, text string) Result
	Look(ctx context.Context) Result
	Go(ctx context.Context, target string) Result
}

// Handler executes one command against an Actor.
type Handler func(ctx context.Context, d *Dispatcher, a Actor, args protocol.Words) Result

// Command defines a client-invocable command.
type Command struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Usage is the entry shown in the help summary.
	Usage string
	// Help is a one-line description.
	Help string
	// Handler runs the command.
	Handler Handler
}

// BuiltinCommands returns the command table in help-summary order.
func BuiltinCommands() []Command {
	return []Command{
		{Name: NameHelp, Aliases: []string{"?"}, Usage: "help", Help: "List available commands", Handler: handleHelp},
		{Name: NameSend, Aliases: []string{"say"}, Usage: "send", Help: "Say something to the room", Handler: handleSend},
		{Name: NameLeave, Usage: "leave", Help: "Go offline in the current room", Handler: handleLeave},
		{Name: NameLook, Aliases: []string{"l"}, Usage: "look", Help: "Describe the current room", Handler: handleLook},
		{Name: NameGo, Usage: "go <room>", Help: "Move through an exit", Handler: handleGo},
	}
}

func handleHelp(_ context.Context, d *Dispatcher, _ Actor, _ protocol.Words) Result {
	return Reply(d.Summary())
}

func handleSend(ctx context.Context, _ *Dispatcher, a Actor, args protocol.Words) Result {
	return a.Send(ctx, args.Text())
}

func handleLeave(ctx context.Context, _ *Dispatcher, a Actor, _ protocol.Words) Result {
	return a.Leave(ctx)
}

func handleLook(ctx context.Context, _ *Dispatcher, a Actor, _ protocol.Words) Result {
	return a.Look(ctx)
}

func handleGo(ctx context.Context, _ *Dispatcher, a Actor, args protocol.Words) Result {
	return a.Go(ctx, args.Text())
}
