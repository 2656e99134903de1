// Package node composes the device state layer on top of a hub session.
//
// A Node owns the three inbound handlers (commands, desired-property
// patches and twin responses), the one-time initial twin fetch and the
// periodic check-and-report step that publishes reported properties.
//
// Deliveries from the transport are re-posted onto the node's event queue
// when one is configured, so LED transitions, twin updates and command
// responses all happen on the loop goroutine rather than inside the MQTT
// client's callback.
package node
