package led

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/timer"
)

// Channel is one LED and its blink timer.
type Channel struct {
	mu sync.Mutex

	color     Color
	out       hardware.Output
	sched     timer.Scheduler
	activeLow bool
	fast      time.Duration
	slow      time.Duration

	state   State
	changed bool
	blink   timer.Timer
	gen     uint64
}

// asserted returns the line level that lights the LED.
func (c *Channel) asserted() hardware.Level {
	if c.activeLow {
		return hardware.Low
	}
	return hardware.High
}

// Color returns which channel this is.
func (c *Channel) Color() Color {
	return c.color
}

// Set moves the channel to s.
//
// Setting the current state is a no-op and does not restart a running
// blink timer. Switching between the two blink rates restarts the timer
// at the new period. Any other transition stops the blink timer before
// the pin is driven.
//
// Returns an error only if the output line rejects the write; the channel
// then keeps its previous state.
func (c *Channel) Set(s State) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidState, int(s))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s == c.state {
		return nil
	}

	switch s {
	case Hold:
		if err := c.out.Write(c.asserted()); err != nil {
			return fmt.Errorf("led %s: %w", c.color, err)
		}
	case Off:
		if err := c.out.Write(c.asserted().Invert()); err != nil {
			return fmt.Errorf("led %s: %w", c.color, err)
		}
	}

	c.stopBlinkLocked()

	if s.Blinking() {
		period := c.fast
		if s == BlinkSlow {
			period = c.slow
		}
		gen := c.gen
		c.blink = c.sched.Every(period, func() { c.toggle(gen) })
	}

	c.state = s
	c.changed = true
	transitions.WithLabelValues(c.color.String(), s.String()).Inc()
	return nil
}

// stopBlinkLocked cancels the blink timer and invalidates toggles it has
// already queued.
func (c *Channel) stopBlinkLocked() {
	if c.blink != nil {
		c.blink.Stop()
		c.blink = nil
	}
	c.gen++
}

// toggle inverts the pin if gen still names the running blink timer.
func (c *Channel) toggle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.state.Blinking() {
		staleToggles.Inc()
		return
	}
	_ = c.out.Write(c.out.Level().Invert()) //nolint:errcheck // Next toggle retries
}

// State returns the current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TakeChange returns the current state and whether it changed since the
// last call, clearing the change flag.
func (c *Channel) TakeChange() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.changed
	c.changed = false
	return c.state, changed
}

// Changed reports the change flag without consuming it.
func (c *Channel) Changed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// reset drives the line off and forgets any state without raising the
// change flag.
func (c *Channel) reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopBlinkLocked()
	c.state = Off
	c.changed = false
	return c.out.Write(c.asserted().Invert())
}

func (c *Channel) drive(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	level := c.asserted()
	if !on {
		level = level.Invert()
	}
	return c.out.Write(level)
}
