package twin

import (
	"math/bits"
	"strings"

	"github.com/nerrad567/sensornode/internal/led"
)

// Flags is a set of dirty properties.
type Flags uint16

// Dirty property bits.
const (
	FlagTelemetryInterval Flags = 1 << iota
	FlagLEDBlue
	FlagLEDGreen
	FlagLEDYellow
	FlagLEDRed
	// FlagInitialGet marks the one-time complete snapshot sent after the
	// node's initial get of the twin.
	FlagInitialGet

	numFlags = iota

	flagsAllLEDs = FlagLEDBlue | FlagLEDGreen | FlagLEDYellow | FlagLEDRed
)

var flagNames = [numFlags]string{"telemetryInterval", "blue", "green", "yellow", "red", "initialGet"}

// FlagFor returns the dirty bit of channel c.
func FlagFor(c led.Color) Flags {
	return FlagLEDBlue << uint(c)
}

// Any reports whether any bit is set.
func (f Flags) Any() bool {
	return f != 0
}

// Has reports whether every bit of g is set in f.
func (f Flags) Has(g Flags) bool {
	return f&g == g
}

// Count returns the number of set bits.
func (f Flags) Count() int {
	return bits.OnesCount16(uint16(f))
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for i := range numFlags {
		if f&(1<<i) != 0 {
			names = append(names, flagNames[i])
		}
	}
	return strings.Join(names, "|")
}
