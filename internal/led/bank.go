package led

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sensornode/internal/hardware"
	"github.com/nerrad567/sensornode/internal/timer"
)

// BankConfig configures the four channels.
type BankConfig struct {
	// Outputs holds one line per channel, indexed by Color.
	Outputs [numColors]hardware.Output

	// ActiveLow is true when driving a line low lights its LED.
	ActiveLow bool

	// Scheduler arms the blink timers. Its callbacks should run on the
	// goroutine that owns the node state (see timer.Queued).
	Scheduler timer.Scheduler

	// BlinkFast and BlinkSlow are the toggle periods of the blink states.
	BlinkFast time.Duration
	BlinkSlow time.Duration
}

// Bank groups the node's four channels.
type Bank struct {
	channels [numColors]*Channel
}

// NewBank builds the channels described by cfg. Lines are not driven
// until Init or Set is called.
func NewBank(cfg BankConfig) (*Bank, error) {
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler is required", ErrInvalidConfig)
	}
	if cfg.BlinkFast <= 0 || cfg.BlinkSlow <= 0 {
		return nil, fmt.Errorf("%w: blink periods must be positive", ErrInvalidConfig)
	}

	b := &Bank{}
	for i, out := range cfg.Outputs {
		if out == nil {
			return nil, fmt.Errorf("%w: no output for %s", ErrInvalidConfig, Color(i))
		}
		b.channels[i] = &Channel{
			color:     Color(i),
			out:       out,
			sched:     cfg.Scheduler,
			activeLow: cfg.ActiveLow,
			fast:      cfg.BlinkFast,
			slow:      cfg.BlinkSlow,
		}
	}
	return b, nil
}

// Channel returns the channel for c.
func (b *Bank) Channel(c Color) *Channel {
	return b.channels[c]
}

// Set moves channel c to s.
func (b *Bank) Set(c Color, s State) error {
	return b.channels[c].Set(s)
}

// State returns the state of channel c.
func (b *Bank) State(c Color) State {
	return b.channels[c].State()
}

// Init turns every channel off. Change flags are left clear.
func (b *Bank) Init() error {
	var errs []error
	for _, ch := range b.channels {
		if err := ch.reset(); err != nil {
			errs = append(errs, fmt.Errorf("led %s: %w", ch.color, err))
		}
	}
	return errors.Join(errs...)
}

// SelfTest lights each channel in order, step apart, then turns them all
// off again. It must run before any channel is Set.
func (b *Bank) SelfTest(ctx context.Context, step time.Duration) error {
	for _, ch := range b.channels {
		if err := ch.drive(true); err != nil {
			return fmt.Errorf("self test %s: %w", ch.color, err)
		}
		if err := sleep(ctx, step); err != nil {
			return err
		}
	}
	for _, ch := range b.channels {
		if err := ch.drive(false); err != nil {
			return fmt.Errorf("self test %s: %w", ch.color, err)
		}
		if err := sleep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns every channel's state name keyed by channel name.
func (b *Bank) Snapshot() map[string]string {
	out := make(map[string]string, numColors)
	for _, ch := range b.channels {
		out[ch.color.String()] = ch.State().String()
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
