package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the node.
const (
	MeasurementSensors = "sensor_readings"
	MeasurementLEDs    = "led_states"
)

// WriteSensorSample records one telemetry sample.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteSensorSample("node-1", 21, 340, time.Now())
func (c *Client) WriteSensorSample(deviceID string, temperature, light int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(SensorPoint(deviceID, temperature, light, at))
}

// WriteLEDState records the state a channel moved to.
func (c *Client) WriteLEDState(deviceID, channel, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementLEDs,
		map[string]string{
			"device_id": deviceID,
			"channel":   channel,
		},
		map[string]interface{}{
			"state": state,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// SensorPoint builds the point written by WriteSensorSample.
func SensorPoint(deviceID string, temperature, light int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementSensors,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"temperature": temperature,
			"light":       light,
		},
		at,
	)
}
