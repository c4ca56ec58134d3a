package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/protocol"
)

// Dispatcher maps command tokens to handlers. The table is fixed at
// construction.
type Dispatcher struct {
	commands map[string]*Command // canonical name → command
	aliases  map[string]string   // alias → canonical name
	order    []string
}

// NewDispatcher creates a Dispatcher populated with the given commands.
//
// Precondition: No two commands may share a canonical name or alias; every
// command has a Handler.
// Postcondition: Returns a Dispatcher or an error on collisions.
func NewDispatcher(cmds []Command) (*Dispatcher, error) {
	d := &Dispatcher{
		commands: make(map[string]*Command, len(cmds)),
		aliases:  make(map[string]string),
	}

	for i := range cmds {
		cmd := &cmds[i]
		if cmd.Handler == nil {
			return nil, fmt.Errorf("command %q has no handler", cmd.Name)
		}
		if _, exists := d.commands[cmd.Name]; exists {
			return nil, fmt.Errorf("duplicate command name: %q", cmd.Name)
		}
		if _, exists := d.aliases[cmd.Name]; exists {
			return nil, fmt.Errorf("command name %q conflicts with an existing alias", cmd.Name)
		}
		d.commands[cmd.Name] = cmd
		d.order = append(d.order, cmd.Name)

		for _, alias := range cmd.Aliases {
			if _, exists := d.commands[alias]; exists {
				return nil, fmt.Errorf("alias %q conflicts with command name %q", alias, alias)
			}
			if existing, exists := d.aliases[alias]; exists {
				return nil, fmt.Errorf("duplicate alias %q: used by %q and %q", alias, existing, cmd.Name)
			}
			d.aliases[alias] = cmd.Name
		}
	}

	return d, nil
}

// DefaultDispatcher creates a Dispatcher with all built-in commands.
func DefaultDispatcher() *Dispatcher {
	d, err := NewDispatcher(BuiltinCommands())
	if err != nil {
		panic(fmt.Sprintf("building default dispatcher: %v", err))
	}
	return d
}

// Resolve looks up a command by name or alias. Tokens are matched
// case-insensitively after trimming.
func (d *Dispatcher) Resolve(token string) (*Command, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if cmd, ok := d.commands[token]; ok {
		return cmd, true
	}
	if canonical, ok := d.aliases[token]; ok {
		return d.commands[canonical], true
	}
	return nil, false
}

// Commands returns the commands in table order.
func (d *Dispatcher) Commands() []*Command {
	result := make([]*Command, 0, len(d.order))
	for _, name := range d.order {
		result = append(result, d.commands[name])
	}
	return result
}

// Summary returns the help line listing every command's usage.
func (d *Dispatcher) Summary() string {
	usages := make([]string, 0, len(d.order))
	for _, name := range d.order {
		usages = append(usages, d.commands[name].Usage)
	}
	return "options: " + strings.Join(usages, ", ")
}

// Unknown returns the reply for a token that matches no command.
func (d *Dispatcher) Unknown(token string) Result {
	return Reply(fmt.Sprintf("I don't understand `%s`, try %s.", token, ansi.Colorize(ansi.BrightYellow, NameHelp)))
}

// Dispatch routes in to its handler. A panicking handler is converted to a
// failed Result.
//
// Postcondition: Always returns; never propagates a panic.
func (d *Dispatcher) Dispatch(ctx context.Context, a Actor, in protocol.Inbound) (res Result) {
	cmd, ok := d.Resolve(in.Command)
	if !ok {
		return d.Unknown(in.Command)
	}
	defer func() {
		if r := recover(); r != nil {
			res = Fail(&PanicError{Command: cmd.Name, Value: r})
		}
	}()
	return cmd.Handler(ctx, d, a, in.Message)
}

// PanicError records a recovered handler panic.
type PanicError struct {
	Command string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("command %q panicked: %v", e.Command, e.Value)
}
