package led

import "fmt"

// State is the visual state of one channel.
type State int

// Channel states. The values are the bit encoding reported to the twin.
const (
	Off       State = 0
	Hold      State = 1
	BlinkFast State = 2
	BlinkSlow State = 4
)

// String returns the display name used in logs and the diagnostics API.
func (s State) String() string {
	switch s {
	case Off:
		return "Off"
	case Hold:
		return "On"
	case BlinkFast:
		return "Blink(Fast)"
	case BlinkSlow:
		return "Blink(Slow)"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Blinking reports whether s is driven by a blink timer.
func (s State) Blinking() bool {
	return s == BlinkFast || s == BlinkSlow
}

// Valid reports whether s is one of the four defined states.
func (s State) Valid() bool {
	switch s {
	case Off, Hold, BlinkFast, BlinkSlow:
		return true
	}
	return false
}

// Color identifies a channel.
type Color int

// Channels in physical order.
const (
	Blue Color = iota
	Green
	Yellow
	Red

	numColors = 4
)

var colorNames = [numColors]string{"blue", "green", "yellow", "red"}

// Colors lists every channel in physical order.
var Colors = []Color{Blue, Green, Yellow, Red}

func (c Color) String() string {
	if c < 0 || c >= numColors {
		return fmt.Sprintf("Color(%d)", int(c))
	}
	return colorNames[c]
}

// ParseColor maps a configuration name ("blue", "green", ...) to a Color.
func ParseColor(name string) (Color, bool) {
	for i, n := range colorNames {
		if n == name {
			return Color(i), true
		}
	}
	return 0, false
}
