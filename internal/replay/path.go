package replay

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Path moves a simulated hand on a horizontal circle around the anchors'
// centroid, lifting away from their plane once per orbit.
type Path struct {
	center r3.Vec
	orbit  float64
	period time.Duration
}

// NewPath builds the path for anchors. orbit <= 0 uses half of the mean anchor
// distance from the centroid.
func NewPath(anchors []Anchor, orbit float64, period time.Duration) Path {
	var center r3.Vec
	for _, a := range anchors {
		center = r3.Add(center, a.Position)
	}
	if n := len(anchors); n > 0 {
		center = r3.Scale(1/float64(n), center)
	}
	if orbit <= 0 {
		var spread float64
		for _, a := range anchors {
			spread += r3.Norm(r3.Sub(a.Position, center))
		}
		if n := len(anchors); n > 0 {
			spread /= float64(n)
		}
		orbit = spread * orbitShare
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return Path{center: center, orbit: orbit, period: period}
}

// Position returns the hand position elapsed into the run.
func (p Path) Position(elapsed time.Duration) r3.Vec {
	phase := 2 * math.Pi * float64(elapsed%p.period) / float64(p.period)
	return r3.Vec{
		X: p.center.X + p.orbit*math.Cos(phase),
		Y: p.center.Y + p.orbit*math.Sin(phase),
		Z: p.center.Z + p.orbit*0.5*(1-math.Cos(phase)),
	}
}

// Proximity is the normalized reading an anchor reports for a hand at pos:
// 1 when touching, falling to 0 at the anchor radius.
func Proximity(a Anchor, pos r3.Vec) float64 {
	if a.Radius <= 0 {
		return 0
	}
	d := r3.Norm(r3.Sub(pos, a.Position))
	return math.Max(0, 1-d/a.Radius)
}

// Contacts returns one reading per anchor for the hand at pos. The service
// stamps them on receipt.
func Contacts(anchors []Anchor, pos r3.Vec) []Contact {
	out := make([]Contact, len(anchors))
	for i, a := range anchors {
		out[i] = Contact{ReceiverID: a.ReceiverID, Value: Proximity(a, pos)}
	}
	return out
}
