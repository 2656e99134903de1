package telemetry

import "errors"

var (
	// ErrSensorRead is returned when the sensors cannot be sampled.
	ErrSensorRead = errors.New("telemetry: sensor read failed")

	// ErrPublish is returned when the sample could not be handed to the transport.
	ErrPublish = errors.New("telemetry: publish failed")
)
