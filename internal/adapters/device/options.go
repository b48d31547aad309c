package device

import (
	"time"

	"github.com/okian/patpat/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithPublisher sets the MQTT connection used by mqtt devices.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithTopicPrefix sets the MQTT topic prefix for mqtt devices.
func WithTopicPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.topicPrefix = prefix
		}
	}
}

// WithSerialOpener replaces the function used to open serial ports.
func WithSerialOpener(open SerialOpener) Option {
	return func(m *Manager) {
		if open != nil {
			m.openSerial = open
		}
	}
}

// WithSendTimeout bounds a single transmission.
func WithSendTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sendTimeout = d
		}
	}
}
