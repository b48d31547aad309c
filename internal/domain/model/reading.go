// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidReading is returned by Reading.Validate.
var ErrInvalidReading = errors.New("invalid reading")

// Reading is a contact sample as delivered by an ingestion transport
// (HTTP or MQTT) before it is routed to the owning contact points.
type Reading struct {
	ReceiverID string    // correlation key configured as avatar_points[].receiver_id
	Value      float64   // normalized proximity: 1 = touching, 0 = out of range
	TS         time.Time // receive time, or client supplied timestamp
}

// Validate rejects readings that can never be routed or recorded.
func (r Reading) Validate() error {
	if r.ReceiverID == "" {
		return errors.Join(ErrInvalidReading, errors.New("receiver id is empty"))
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.Join(ErrInvalidReading, errors.New("value is not finite"))
	}
	return nil
}

// SolvedPoint is the observational event published after a successful
// multilateration solve.
type SolvedPoint struct {
	GroupID int
	Point   r3.Vec
	At      time.Time
}
