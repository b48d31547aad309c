// Package device sends motor PWM values to the hardware.
//
// Every device keeps the latest value of each channel. SetAndSendPinValues only
// updates that array and marks the device dirty; a writer goroutine per device
// transmits the whole array, so bursts of updates within one tick coalesce into
// a single frame and the solver never waits on I/O.
package device

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/patpat/pkg/logger"
	"github.com/okian/patpat/pkg/metrics"
)

// Transport writes a full pin frame to one device.
type Transport interface {
	Send(ctx context.Context, pins []int) error
	Close() error
}

// Device is the output for the motors attached to one hardware device.
type Device struct {
	ID   int
	Name string

	transport Transport
	enabled   *atomic.Bool
	timeout   time.Duration
	log       logger.Logger
	label     string

	mu    sync.Mutex
	pins  []int
	dirty chan struct{}
}

func newDevice(id int, name string, numMotors int, t Transport, enabled *atomic.Bool, timeout time.Duration, log logger.Logger) *Device {
	return &Device{
		ID:        id,
		Name:      name,
		transport: t,
		enabled:   enabled,
		timeout:   timeout,
		log:       log,
		label:     strconv.Itoa(id),
		pins:      make([]int, numMotors),
		dirty:     make(chan struct{}, 1),
	}
}

// SetAndSendPinValues stores pwm for channel and schedules a transmission.
// It never blocks.
func (d *Device) SetAndSendPinValues(channel, pwm int) {
	d.mu.Lock()
	if channel < 0 || channel >= len(d.pins) {
		d.mu.Unlock()
		metrics.RecordDeviceError(d.label)
		d.log.Debug(context.Background(), "dropping pin value",
			logger.Int("device", d.ID), logger.Error(fmt.Errorf("%w: %d", ErrChannelRange, channel)))
		return
	}
	d.pins[channel] = pwm
	d.mu.Unlock()

	select {
	case d.dirty <- struct{}{}:
	default:
	}
}

// Pins returns a copy of the current pin values.
func (d *Device) Pins() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.pins...)
}

func (d *Device) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.dirty:
			d.flush(ctx)
		}
	}
}

func (d *Device) flush(ctx context.Context) {
	if !d.enabled.Load() {
		return
	}
	pins := d.Pins()
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.transport.Send(sendCtx, pins); err != nil {
		metrics.RecordDeviceError(d.label)
		d.log.Warn(ctx, "device send failed", logger.Int("device", d.ID), logger.Error(err))
		return
	}
	metrics.RecordDeviceFrame(d.label)
}

// discard is the output for motors on unknown devices.
type discard struct{}

func (discard) SetAndSendPinValues(int, int) {}
