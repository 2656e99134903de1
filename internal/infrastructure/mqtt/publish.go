package mqtt

import (
	"fmt"
)

// maxPayloadSize is the hub's device-to-cloud message limit.
const maxPayloadSize = 256 << 10

// Publish sends payload on topic and waits for the hub to accept it.
//
// Reported-property patches and the twin get carry an empty or small JSON
// body; telemetry goes to devices/{id}/messages/events/. Callers serialize
// publishes with a PublishLock where the hub requires one in flight.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}
