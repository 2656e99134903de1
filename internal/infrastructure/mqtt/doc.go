// Package mqtt provides the device's MQTT transport.
//
// This package manages:
//   - Sessions with the provisioning service and the assigned hub
//   - X.509 client-certificate TLS
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after reconnect
//   - Builders and parsers for hub and provisioning topics
//
// # Architecture
//
// The node holds at most one session at a time. Provisioning opens a short
// lived session against the global endpoint; once a hub is assigned the node
// opens a long lived session against that hub.
//
//	sensornode ↔ provisioning service   (until assigned)
//	sensornode ↔ hub                    (afterwards)
//
// # Usage
//
//	session := mqtt.NewSessionConfig(cfg.MQTT, host, 8883, deviceID, username)
//	session.AutoReconnect = true
//	client, err := mqtt.Connect(session)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.CommandsSubscribe(), 0, node.HandleCommand)
package mqtt
