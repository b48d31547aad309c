package device

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of an MQTT client devices publish through.
// mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// DeviceTopic returns the topic a device listens on for pin frames.
func DeviceTopic(prefix string, id int) string {
	return fmt.Sprintf("%s/out/device/%d/m", prefix, id)
}

// MQTTTransport publishes pin frames as a JSON array.
type MQTTTransport struct {
	pub   Publisher
	topic string
}

// NewMQTTTransport creates a transport publishing to topic.
func NewMQTTTransport(pub Publisher, topic string) *MQTTTransport {
	return &MQTTTransport{pub: pub, topic: topic}
}

// Send publishes pins with QoS 0.
func (t *MQTTTransport) Send(ctx context.Context, pins []int) error {
	payload, err := json.Marshal(pins)
	if err != nil {
		return fmt.Errorf("encode pins: %w", err)
	}
	tok := t.pub.Publish(t.topic, 0, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close is a no-op; the connection belongs to the caller.
func (t *MQTTTransport) Close() error { return nil }
