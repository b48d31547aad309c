package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/okian/patpat/pkg/logger"
)

// Option applies a configuration option to the Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithClient replaces the paho client built from the configuration.
func WithClient(c paho.Client) Option {
	return func(b *Bridge) {
		b.client = c
	}
}

// WithEnqueuer sets where contact readings received over MQTT go.
func WithEnqueuer(e Enqueuer) Option {
	return func(b *Bridge) {
		b.enqueue = e
	}
}

// WithEnabler sets the target of the enable topic.
func WithEnabler(e Enabler) Option {
	return func(b *Bridge) {
		b.enabler = e
	}
}

// WithNow sets the clock used to timestamp contact readings.
func WithNow(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}
