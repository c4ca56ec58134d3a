package ansi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestColorize(t *testing.T) {
	assert.Equal(t, "\033[94malice\033[0m", Colorize(BrightBlue, "alice"))
}

func TestColorf(t *testing.T) {
	assert.Equal(t, Green+"2 exits"+Reset, Colorf(Green, "%d exits", 2))
}

func TestColorizeList(t *testing.T) {
	assert.Equal(t, "", ColorizeList(Cyan, nil))
	got := ColorizeList(Cyan, []string{"hall", "cellar"})
	assert.Equal(t, "hall, cellar", Strip(got))
	assert.Contains(t, got, Cyan+"hall"+Reset)
}

func TestStrip_LeavesPlainTextAlone(t *testing.T) {
	assert.Equal(t, "plain [text]", Strip("plain [text]"))
	assert.Equal(t, "broken \033[94", Strip("broken \033[94"))
}

func TestPropertyStripInvertsColorize(t *testing.T) {
	colors := []string{Red, Green, BrightBlue, BrightYellow, Bold}
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z0-9 ,.!"]{0,40}`).Draw(t, "text")
		color := rapid.SampledFrom(colors).Draw(t, "color")
		if got := Strip(Colorize(color, text)); got != text {
			t.Fatalf("Strip(Colorize(%q)) = %q", text, got)
		}
	})
}
