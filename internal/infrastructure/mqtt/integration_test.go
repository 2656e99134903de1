//go:build integration

package mqtt

import (
	"slices"
	"sync"
	"testing"
	"time"
)

// Integration tests against a plain broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationSession(clientID string) SessionConfig {
	return SessionConfig{
		Host:          "127.0.0.1",
		Port:          1883,
		ClientID:      clientID,
		AutoReconnect: true,
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationSession("sensornode-int-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		Topics{}.CommandsSubscribe(),
		Topics{}.PropertyPatchSubscribe(),
		Topics{}.PropertyResponseSubscribe(),
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 0, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	got := client.Subscriptions()
	slices.Sort(topics)
	if !slices.Equal(got, topics) {
		t.Errorf("Subscriptions() = %v, want %v", got, topics)
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	pub, err := Connect(integrationSession("sensornode-int-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationSession("sensornode-int-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan CommandRequest, 1)
	var once sync.Once

	err = sub.Subscribe(Topics{}.CommandsSubscribe(), 1, func(topic string, _ []byte) error {
		req, err := ParseCommandTopic(topic)
		if err != nil {
			return err
		}
		once.Do(func() { received <- req })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish("$iothub/methods/POST/reboot/?$rid=42", []byte(`{"delay":"PT5S"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case req := <-received:
		if req.Name != "reboot" || req.RequestID != "42" {
			t.Errorf("received %+v", req)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}
