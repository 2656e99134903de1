package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTLSConfig is returned when the device certificate or CA bundle cannot be loaded.
	ErrTLSConfig = errors.New("mqtt: invalid TLS material")

	// ErrUnexpectedTopic is returned by the topic parsers when a topic does
	// not belong to the family being parsed.
	ErrUnexpectedTopic = errors.New("mqtt: unexpected topic")

	// ErrLockTimeout is returned when the shared publish lock could not be
	// acquired within its timeout. The caller abandons that publish.
	ErrLockTimeout = errors.New("mqtt: publish lock timeout")
)
