// Package contact holds the contact point model fed by the avatar client.
package contact

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidSample is returned when a contact point is built from bad geometry.
var ErrInvalidSample = errors.New("invalid contact sample")

// Reading is one immutable (value, timestamp) pair.
type Reading struct {
	Value float64
	At    time.Time
}

// Age returns how old the reading is at now. A reading that was never written
// has an infinite age.
func (r Reading) Age(now time.Time) time.Duration {
	if r.At.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(r.At)
}

// Sample is a named 3D anchor with the latest proximity reading.
//
// Record and Snapshot may be called from different goroutines. The pair is
// swapped as one pointer so a reader never observes a value from one write
// and a timestamp from another.
type Sample struct {
	Name       string
	ReceiverID string
	Anchor     r3.Vec
	Radius     float64

	last atomic.Pointer[Reading]
}

// New validates the geometry and returns a sample with no reading yet.
func New(name, receiverID string, anchor r3.Vec, radius float64) (*Sample, error) {
	if receiverID == "" {
		return nil, fmt.Errorf("%w: %q: receiver id is empty", ErrInvalidSample, name)
	}
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("%w: %q: radius must be > 0, got %v", ErrInvalidSample, name, radius)
	}
	return &Sample{Name: name, ReceiverID: receiverID, Anchor: anchor, Radius: radius}, nil
}

// Record stores value and its timestamp, last write wins. Values are clamped
// to [0,1] where 1 is touching; NaN is stored as 0 (no contact).
func (s *Sample) Record(value float64, at time.Time) {
	switch {
	case math.IsNaN(value), value < 0:
		value = 0
	case value > 1:
		value = 1
	}
	s.last.Store(&Reading{Value: value, At: at})
}

// Snapshot returns the latest reading. The zero Reading means never written
// and reads as no contact.
func (s *Sample) Snapshot() Reading {
	if r := s.last.Load(); r != nil {
		return *r
	}
	return Reading{}
}

// Distance converts the proximity reading into a physical distance from the
// anchor: 0 when touching, Radius at the edge of the sphere.
func (r Reading) Distance(radius float64) float64 {
	return (1 - r.Value) * radius
}
