// Package led implements the node's four LED channels (blue, green, yellow,
// red) as small state machines.
//
// Each channel is Off, Hold (steady on) or blinking at one of two rates.
// Blinking is driven by a periodic timer owned by the channel; leaving a
// blink state stops that timer before the new state is recorded, and every
// toggle carries the generation of the timer that produced it so a toggle
// already in flight cannot act on a channel that has since moved on.
//
// Every transition sets the channel's change flag, which the twin
// synchronizer consumes with TakeChange to report hardware state.
package led
