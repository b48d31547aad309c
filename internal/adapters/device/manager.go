package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/motor"
	"github.com/okian/patpat/pkg/logger"
	"github.com/okian/patpat/pkg/metrics"
)

const (
	defaultTopicPrefix = "/dev/patpatpat"
	defaultSendTimeout = 250 * time.Millisecond
)

// Manager owns every configured device and their writer goroutines.
type Manager struct {
	log         logger.Logger
	publisher   Publisher
	topicPrefix string
	openSerial  SerialOpener
	sendTimeout time.Duration

	enabled atomic.Bool
	devices map[int]*Device

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a device for every entry of cfgs. Transmission starts
// enabled. Serial ports are opened here, so a missing port fails fast.
func NewManager(cfgs map[string]config.DeviceConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		topicPrefix: defaultTopicPrefix,
		openSerial:  OpenSerial,
		sendTimeout: defaultSendTimeout,
		devices:     make(map[int]*Device, len(cfgs)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("device")
	}
	m.enabled.Store(true)
	metrics.UpdateDeviceTransmitEnabled(true)

	keys := make([]string, 0, len(cfgs))
	for key := range cfgs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cfg := cfgs[key]
		t, err := m.transport(cfg)
		if err != nil {
			m.closeTransports()
			return nil, fmt.Errorf("device %q: %w", key, err)
		}
		m.devices[cfg.ID] = newDevice(cfg.ID, cfg.Name, cfg.NumMotors, t, &m.enabled, m.sendTimeout, m.log)
	}
	return m, nil
}

func (m *Manager) transport(cfg config.DeviceConfig) (Transport, error) {
	switch strings.ToLower(cfg.ConnectionType) {
	case config.ConnectionMQTT:
		if m.publisher == nil {
			return nil, ErrNoPublisher
		}
		return NewMQTTTransport(m.publisher, DeviceTopic(m.topicPrefix, cfg.ID)), nil
	case config.ConnectionSerial:
		port, err := m.openSerial(cfg.SerialPort, cfg.BaudRate)
		if err != nil {
			return nil, err
		}
		return NewSerialTransport(port), nil
	case "", config.ConnectionLog:
		return NewLogTransport(m.log.Named(fmt.Sprintf("dev%d", cfg.ID))), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownConnection, cfg.ConnectionType)
	}
}

// Output returns the output for deviceID. Unknown ids get an output that
// drops every value.
func (m *Manager) Output(deviceID int) motor.Output {
	if d, ok := m.devices[deviceID]; ok {
		return d
	}
	m.log.Warn(context.Background(), "motor refers to an unknown device", logger.Int("device", deviceID))
	return discard{}
}

// Device returns the device with the given id.
func (m *Manager) Device(id int) (*Device, bool) {
	d, ok := m.devices[id]
	return d, ok
}

// SetEnabled gates transmission to every device.
func (m *Manager) SetEnabled(enabled bool) {
	if m.enabled.Swap(enabled) == enabled {
		return
	}
	metrics.UpdateDeviceTransmitEnabled(enabled)
	m.log.Info(context.Background(), "device transmission toggled", logger.Bool("enabled", enabled))
	if enabled {
		// resend the current state
		for _, d := range m.devices {
			select {
			case d.dirty <- struct{}{}:
			default:
			}
		}
	}
}

// Enabled reports whether transmission is enabled.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// Start runs one writer goroutine per device.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true
	for _, d := range m.devices {
		m.wg.Add(1)
		go func(d *Device) {
			defer m.wg.Done()
			d.run(ctx)
		}(d)
	}
	m.log.Info(ctx, "devices started", logger.Int("count", len(m.devices)))
	return nil
}

// Stop ends the writers, sends a last all-zero frame and closes the transports.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.cancel()
		m.started = false
	}
	m.mu.Unlock()
	m.wg.Wait()

	var errs []error
	for _, d := range m.devices {
		if m.enabled.Load() {
			sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
			if err := d.transport.Send(sendCtx, make([]int, len(d.pins))); err != nil {
				errs = append(errs, fmt.Errorf("device %d: %w", d.ID, err))
			}
			cancel()
		}
	}
	if err := m.closeTransports(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) closeTransports() error {
	var errs []error
	for _, d := range m.devices {
		if err := d.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}
