// Package gesture maps touch samples to navigation commands.
package gesture

import "paperpiper/internal/model"

// Sample is one touch event in viewport coordinates. Click and Flick are
// pulses; DX/DY carry the signed flick movement.
type Sample struct {
	X, Y   int
	Click  bool
	Flick  bool
	DX, DY int
}

// Command is the semantic result of a gesture.
type Command uint8

const (
	None Command = iota
	NextPage
	PrevPage
	FirstPage
	LastPage
	FontUp
	FontDown
	ToggleChrome
)

func (c Command) String() string {
	switch c {
	case NextPage:
		return "next"
	case PrevPage:
		return "prev"
	case FirstPage:
		return "first"
	case LastPage:
		return "last"
	case FontUp:
		return "font+"
	case FontDown:
		return "font-"
	case ToggleChrome:
		return "chrome"
	}
	return "none"
}

// FooterZones is the number of equal-width footer buttons.
const FooterZones = 5

var footerCommands = [FooterZones]Command{FirstPage, PrevPage, None, NextPage, LastPage}

// FooterZone returns the button index under x for a footer width wide.
func FooterZone(x, width int) int {
	if width <= 0 || x < 0 {
		return 0
	}
	z := x * FooterZones / width
	if z >= FooterZones {
		z = FooterZones - 1
	}
	return z
}

// InFooter reports whether y falls in the footer band of v.
func InFooter(y int, v model.Viewport) bool {
	return y > v.Height-v.FooterHeight
}

// Interpret resolves a sample for the given mode and viewport. recognized
// is false when the mode ignores the gesture entirely; a recognized
// gesture may still map to None (the page indicator button).
func Interpret(s Sample, mode model.Mode, v model.Viewport) (cmd Command, recognized bool) {
	if mode == model.ModeNone {
		return None, false
	}

	if s.Flick {
		return flick(s.DX, s.DY, mode)
	}
	if !s.Click {
		return None, false
	}

	if v.ChromeVisible && mode.Paginated() && InFooter(s.Y, v) {
		return footerCommands[FooterZone(s.X, v.Width)], true
	}
	return ToggleChrome, true
}

func flick(dx, dy int, mode model.Mode) (Command, bool) {
	if abs(dx) > abs(dy) {
		if !mode.Paginated() {
			return None, false
		}
		if dx < 0 {
			return NextPage, true
		}
		return PrevPage, true
	}

	switch mode {
	case model.ModeText, model.ModeMQTT, model.ModeStream:
	case model.ModeNone, model.ModeImage:
		return None, false
	}
	switch {
	case dy < 0:
		return FontUp, true
	case dy > 0:
		return FontDown, true
	}
	return None, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
