// Package motor maps normalized speeds onto actuator PWM duty cycles.
package motor

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// Constants for PWM mapping.
const (
	MaxPWMLimit = 255
	// FadeStep is subtracted from the PWM value on every FadeOut call.
	FadeStep = 6
)

// ErrInvalidMotor is returned when a motor is built with an inconsistent range or geometry.
var ErrInvalidMotor = errors.New("invalid motor")

// Output receives PWM values for a device channel. Implementations must not
// block; transmission happens out of band.
type Output interface {
	SetAndSendPinValues(channel, pwm int)
}

// Address locates a motor on the hardware.
type Address struct {
	DeviceID int
	Channel  int
}

// Spec describes a motor to build.
type Spec struct {
	Name    string
	Address Address
	Anchor  r3.Vec
	Radius  float64
	MinPWM  int
	MaxPWM  int
}

// Option applies a configuration option to a Motor.
type Option func(*Motor)

// WithObserver registers fn to be called with every PWM value the motor sends.
func WithObserver(fn func(m *Motor, pwm int)) Option {
	return func(m *Motor) {
		m.observe = fn
	}
}

// Motor is a vibration actuator attached to one device channel.
//
// The PWM value is either 0 or within [MinPWM, MaxPWM].
type Motor struct {
	Spec

	out     Output
	observe func(m *Motor, pwm int)
	pwm     atomic.Int64
}

// New validates spec and returns a motor at rest.
func New(spec Spec, out Output, opts ...Option) (*Motor, error) {
	if spec.MinPWM < 0 || spec.MinPWM > spec.MaxPWM || spec.MaxPWM > MaxPWMLimit {
		return nil, fmt.Errorf("%w: %q: need 0 <= min_pwm <= max_pwm <= %d, got %d..%d",
			ErrInvalidMotor, spec.Name, MaxPWMLimit, spec.MinPWM, spec.MaxPWM)
	}
	if !(spec.Radius > 0) || math.IsInf(spec.Radius, 0) {
		return nil, fmt.Errorf("%w: %q: radius must be > 0, got %v", ErrInvalidMotor, spec.Name, spec.Radius)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %q: no output", ErrInvalidMotor, spec.Name)
	}
	m := &Motor{Spec: spec, out: out}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CurrentPWM returns the last value sent.
func (m *Motor) CurrentPWM() int { return int(m.pwm.Load()) }

// PWMForSpeed maps a speed in [0,1] to a PWM value honoring the deadband.
func (m *Motor) PWMForSpeed(speed float64) int {
	switch {
	case math.IsNaN(speed) || speed < 0:
		speed = 0
	case speed > 1:
		speed = 1
	}
	raw := min(int(math.Ceil(float64(m.MaxPWM)*speed)), m.MaxPWM)
	if raw > 0 && raw < m.MinPWM {
		// actuators do not spin up below their minimum duty cycle
		return m.MinPWM
	}
	return raw
}

// SetSpeed sets the motor to speed (clamped to [0,1]) and sends the result.
func (m *Motor) SetSpeed(speed float64) int {
	pwm := m.PWMForSpeed(speed)
	m.send(pwm)
	return pwm
}

// FadeOut lowers the PWM value by FadeStep. A value that would fall below
// MinPWM goes straight to 0. Nothing is sent once the motor is at rest.
func (m *Motor) FadeOut() int {
	cur := m.CurrentPWM()
	if cur == 0 {
		return 0
	}
	next := cur - FadeStep
	if next < m.MinPWM || next < 0 {
		next = 0
	}
	m.send(next)
	return next
}

// Stop sets the motor to 0 and sends it.
func (m *Motor) Stop() {
	m.send(0)
}

func (m *Motor) send(pwm int) {
	m.pwm.Store(int64(pwm))
	m.out.SetAndSendPinValues(m.Address.Channel, pwm)
	if m.observe != nil {
		m.observe(m, pwm)
	}
}
