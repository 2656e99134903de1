package hardware

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// Level is the electrical level of an output line.
type Level int

// Output line levels.
const (
	Low  Level = 0
	High Level = 1
)

// Invert returns the opposite level.
func (l Level) Invert() Level {
	if l == High {
		return Low
	}
	return High
}

// Output is a single digital output line.
type Output interface {
	// Write drives the line to level.
	Write(level Level) error

	// Level returns the last level written.
	Level() Level
}

// =============================================================================
// GPIO character device
// =============================================================================

// GPIO owns a chip and the output lines requested from it.
type GPIO struct {
	mu    sync.Mutex
	chip  *gpiod.Chip
	lines map[string]*gpioLine
}

// OpenGPIO opens chip and requests each named pin as an output at initial.
//
// Parameters:
//   - chip: Chip name or path, e.g. "gpiochip0"
//   - pins: Line offsets keyed by output name
//   - initial: Level each line is driven to on request
//
// Returns:
//   - *GPIO: Handle owning the chip and lines
//   - error: If the chip cannot be opened or a line request fails
func OpenGPIO(chip string, pins map[string]int, initial Level) (*GPIO, error) {
	c, err := gpiod.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", chip, err)
	}

	g := &GPIO{chip: c, lines: make(map[string]*gpioLine, len(pins))}
	for name, pin := range pins {
		line, err := c.RequestLine(pin, gpiod.AsOutput(int(initial)))
		if err != nil {
			g.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("request output pin %d (%s): %w", pin, name, err)
		}
		g.lines[name] = &gpioLine{line: line, level: initial}
	}
	return g, nil
}

// Output returns the named line, or nil if it was not requested.
func (g *GPIO) Output(name string) Output {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.lines[name]; ok {
		return l
	}
	return nil
}

// Close releases every line and the chip.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for name, l := range g.lines {
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %s: %w", name, err))
		}
	}
	g.lines = map[string]*gpioLine{}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	return errors.Join(errs...)
}

type gpioLine struct {
	mu    sync.Mutex
	line  *gpiod.Line
	level Level
}

func (l *gpioLine) Write(level Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.line.SetValue(int(level)); err != nil {
		return fmt.Errorf("set line %d: %w", l.line.Offset(), err)
	}
	l.level = level
	return nil
}

func (l *gpioLine) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// =============================================================================
// Simulated output
// =============================================================================

// SimOutput is an in-memory Output that remembers every write.
type SimOutput struct {
	mu      sync.Mutex
	level   Level
	history []Level
}

// NewSimOutput returns a SimOutput resting at initial.
func NewSimOutput(initial Level) *SimOutput {
	return &SimOutput{level: initial}
}

// Write records level.
func (s *SimOutput) Write(level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	s.history = append(s.history, level)
	return nil
}

// Level returns the last level written.
func (s *SimOutput) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Writes returns a copy of every level written so far.
func (s *SimOutput) Writes() []Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Level(nil), s.history...)
}
