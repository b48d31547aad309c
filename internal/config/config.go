// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Keys follow koanf struct tags; nested sections are addressed with "." paths.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"strings"
)

// Solver type names accepted under groups.<key>.solver.solver_type.
const (
	SolverTypeMLat      = "MLat"
	SolverTypeSingleN2N = "Single n:n"
)

// Aggregate modes accepted under groups.<key>.solver.single_n2n_mode.
const (
	AggregateMin  = "Min"
	AggregateMax  = "Max"
	AggregateMean = "Mean"
)

// Device connection types.
const (
	ConnectionMQTT   = "mqtt"
	ConnectionSerial = "serial"
	ConnectionLog    = "log"
)

// DefaultTPS is the tick rate used when program.main_tps is missing or invalid.
const DefaultTPS = 40

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory contact ingestion queue.
	QueueSize int `koanf:"queue_size"`

	Program ProgramConfig           `koanf:"program"`
	MQTT    MQTTConfig              `koanf:"mqtt"`
	Devices map[string]DeviceConfig `koanf:"devices"`
	Groups  map[string]GroupConfig  `koanf:"groups"`
}

// ProgramConfig holds solver loop settings.
type ProgramConfig struct {
	MainTPS int `koanf:"main_tps"`
}

// MQTTConfig configures the control and telemetry bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `koanf:"broker"`
	TopicPrefix string `koanf:"topic_prefix"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
}

// DeviceConfig describes one hardware device that owns motor channels.
type DeviceConfig struct {
	ID             int    `koanf:"id"`
	Name           string `koanf:"name"`
	ConnectionType string `koanf:"connection_type"`
	SerialPort     string `koanf:"serial_port"`
	BaudRate       int    `koanf:"baud_rate"`
	NumMotors      int    `koanf:"num_motors"`
}

// GroupConfig describes one contact group.
type GroupConfig struct {
	ID           int           `koanf:"id"`
	Name         string        `koanf:"name"`
	Motors       []MotorConfig `koanf:"motors"`
	AvatarPoints []PointConfig `koanf:"avatar_points"`
	Solver       SolverConfig  `koanf:"solver"`
}

// MotorConfig describes a motor attached to a device channel.
type MotorConfig struct {
	Name string `koanf:"name"`
	// ESPAddr is [deviceId, channel].
	ESPAddr []int     `koanf:"esp_addr"`
	MinPWM  int       `koanf:"min_pwm"`
	MaxPWM  int       `koanf:"max_pwm"`
	XYZ     []float64 `koanf:"xyz"`
	R       float64   `koanf:"r"`
}

// PointConfig describes a contact point fed by the avatar client.
type PointConfig struct {
	Name       string    `koanf:"name"`
	ReceiverID string    `koanf:"receiver_id"`
	XYZ        []float64 `koanf:"xyz"`
	R          float64   `koanf:"r"`
}

// SolverConfig selects and tunes the group solver.
type SolverConfig struct {
	SolverType       string  `koanf:"solver_type"`
	Strength         int     `koanf:"strength"`
	ContactOnly      bool    `koanf:"contact_only"`
	HalfSphereCheck  bool    `koanf:"mlat_enable_half_sphere_check"`
	SingleN2NMode    string  `koanf:"single_n2n_mode"`
	MaxSampleAgeMS   int     `koanf:"max_sample_age_ms"`
	HalfSphereFactor float64 `koanf:"mlat_half_sphere_factor"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",
		QueueSize: 4096,
		Program:   ProgramConfig{MainTPS: DefaultTPS},
		MQTT:      MQTTConfig{TopicPrefix: "/dev/patpatpat"},
		Devices:   map[string]DeviceConfig{},
		Groups:    map[string]GroupConfig{},
	}
}

// Validate checks process level settings. Group level problems are reported
// when the group is built so one bad group does not stop the service.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	seen := make(map[int]string, len(c.Devices))
	for key, d := range c.Devices {
		if other, ok := seen[d.ID]; ok {
			return fmt.Errorf("%w: devices %q and %q share id %d", ErrInvalidConfig, other, key, d.ID)
		}
		seen[d.ID] = key
		if d.NumMotors <= 0 {
			return fmt.Errorf("%w: device %q: num_motors must be positive", ErrInvalidConfig, key)
		}
		switch strings.ToLower(d.ConnectionType) {
		case "", ConnectionLog, ConnectionMQTT:
		case ConnectionSerial:
			if d.SerialPort == "" {
				return fmt.Errorf("%w: device %q: serial_port is required", ErrInvalidConfig, key)
			}
		default:
			return fmt.Errorf("%w: device %q: unknown connection_type %q", ErrInvalidConfig, key, d.ConnectionType)
		}
	}
	return nil
}

// GroupPath returns the key path of a group entry.
func GroupPath(key string) string { return "groups." + key }
