// Package colors provides the terminal styles used by the idevice CLI.
//
// Colors are disabled automatically when stdout is not a terminal. Init
// overrides the detection from the --color/--no-color flags.
package colors

import "github.com/fatih/color"

// Init overrides the auto-detected color setting. A nil forceColor keeps
// the detected value.
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func New(attrs ...color.Attribute) *color.Color {
	return color.New(attrs...)
}

func Bold() *color.Color  { return color.New(color.Bold) }
func Faint() *color.Color { return color.New(color.Faint) }

func Green() *color.Color  { return color.New(color.FgGreen) }
func Red() *color.Color    { return color.New(color.FgRed) }
func Yellow() *color.Color { return color.New(color.FgYellow) }
func HiBlue() *color.Color { return color.New(color.FgHiBlue) }

func BoldGreen() *color.Color  { return color.New(color.Bold, color.FgGreen) }
func BoldRed() *color.Color    { return color.New(color.Bold, color.FgRed) }
func BoldYellow() *color.Color { return color.New(color.Bold, color.FgYellow) }
func BoldHiCyan() *color.Color { return color.New(color.Bold, color.FgHiCyan) }

func FaintHiBlue() *color.Color { return color.New(color.Faint, color.FgHiBlue) }

// Event styles a device event name: attached green, detached red.
func Event(name string) string {
	switch name {
	case "attached", "Attached":
		return BoldGreen().Sprint(name)
	case "detached", "Detached":
		return BoldRed().Sprint(name)
	default:
		return BoldYellow().Sprint(name)
	}
}
