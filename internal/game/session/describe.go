package session

import (
	"strings"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/world"
)

// Describe renders a room for display. The players line is omitted when the
// room has no other occupants; the exits line is always present.
func Describe(v world.RoomView) string {
	var b strings.Builder
	b.WriteString("You are in ")
	b.WriteString(ansi.Colorize(ansi.BrightGreen, v.Name))
	b.WriteString("\r\n\n")
	b.WriteString(v.Description)
	b.WriteString("\r\n\n")
	if len(v.Occupants) > 0 {
		b.WriteString("Players here: ")
		b.WriteString(ansi.ColorizeList(ansi.BrightBlue, v.Occupants))
		b.WriteString("\r\n")
	}
	b.WriteString("Exits: ")
	b.WriteString(ansi.ColorizeList(ansi.BrightGreen, v.Exits))
	return b.String()
}
