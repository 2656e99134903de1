package twin

import "github.com/nerrad567/sensornode/internal/led"

// PropertyTelemetryInterval is the writable telemetry interval property.
const PropertyTelemetryInterval = "telemetryInterval"

var ledProperties = [...]string{
	led.Blue:   "led_b",
	led.Green:  "led_g",
	led.Yellow: "led_y",
	led.Red:    "led_r",
}

// reportOrder is the member order of LED entries in a reported patch.
var reportOrder = []led.Color{led.Yellow, led.Red, led.Blue, led.Green}

// PropertyName returns the twin property name of channel c.
func PropertyName(c led.Color) string {
	return ledProperties[c]
}

// Target is a desired LED state as encoded in the twin.
type Target int32

// Desired LED targets. TargetNoChange means no desired value is held.
const (
	TargetNoChange Target = 0
	TargetHold     Target = 1
	TargetOff      Target = 2
	TargetBlink    Target = 3
)

// State maps the target to the channel state it requests.
func (t Target) State() (led.State, bool) {
	switch t {
	case TargetHold:
		return led.Hold, true
	case TargetOff:
		return led.Off, true
	case TargetBlink:
		return led.BlinkFast, true
	}
	return led.Off, false
}

// reportedValue encodes a live channel state: 1 on, 2 off, 3 blinking.
func reportedValue(s led.State) int64 {
	switch {
	case s.Blinking():
		return 3
	case s == led.Hold:
		return 1
	default:
		return 2
	}
}

// redValue is the string encoding used for the red channel.
func redValue(v int64) string {
	switch v {
	case 1:
		return "On"
	case 3:
		return "Blink"
	default:
		return "Off"
	}
}

// ack is the acknowledgment attached to a writable property.
type ack struct {
	code    int
	version int64
	desc    string
}

// Acknowledgment codes and descriptions.
const (
	ackSuccess      = 200
	ackInvalidValue = 400
	ackFailed       = 500

	ackDescSuccess      = "Success"
	ackDescInvalidValue = "Invalid value"
	ackDescFailed       = "Hardware error"
)

// defaultAck acknowledges a property the cloud never set. Version 1 is
// what the hub expects for a device-initiated baseline.
var defaultAck = ack{code: ackSuccess, version: 1, desc: ackDescSuccess}
