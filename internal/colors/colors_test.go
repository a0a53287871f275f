package colors

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func withNoColor(t *testing.T, v bool) {
	t.Helper()
	orig := color.NoColor
	color.NoColor = v
	t.Cleanup(func() { color.NoColor = orig })
}

func TestInit(t *testing.T) {
	withNoColor(t, true)
	on := true
	Init(&on)
	assert.True(t, Enabled())

	off := false
	Init(&off)
	assert.False(t, Enabled())

	// nil keeps the detected value
	Init(nil)
	assert.False(t, Enabled())
}

func TestStyles(t *testing.T) {
	withNoColor(t, false)
	assert.Contains(t, Bold().Sprint("x"), "\x1b[")
	assert.Contains(t, New(color.FgHiMagenta).Sprint("x"), "\x1b[95")

	color.NoColor = true
	assert.Equal(t, "x", FaintHiBlue().Sprint("x"))
}

func TestEvent(t *testing.T) {
	withNoColor(t, true)
	for _, name := range []string{"attached", "Detached", "Paired"} {
		assert.Equal(t, name, Event(name))
	}

	color.NoColor = false
	assert.Equal(t, BoldGreen().Sprint("Attached"), Event("Attached"))
	assert.Equal(t, BoldRed().Sprint("detached"), Event("detached"))
	assert.Equal(t, BoldYellow().Sprint("Paired"), Event("Paired"))
}
