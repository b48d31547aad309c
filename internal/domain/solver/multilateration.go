package solver

import (
	"fmt"
	"time"

	"github.com/okian/patpat/internal/domain/contact"
	"github.com/okian/patpat/internal/domain/mlat"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/motor"
	"gonum.org/v1/gonum/spatial/r3"
)

// Multilateration locates the contact point from the sample distances and
// drives each motor by its distance to that point.
type Multilateration struct {
	base

	groupID          int
	halfSphereCheck  bool
	halfSphereFactor float64
	onPoint          func(model.SolvedPoint)

	measurements []mlat.Measurement
	reference    int
}

func newMultilateration(spec Spec) *Multilateration {
	s := &Multilateration{
		groupID:          spec.GroupID,
		halfSphereCheck:  spec.HalfSphereCheck,
		halfSphereFactor: spec.HalfSphereFactor,
		onPoint:          spec.OnPoint,
	}
	if s.halfSphereFactor <= 0 {
		s.halfSphereFactor = DefaultHalfSphereFactor
	}
	s.init(spec, DefaultMLatMaxSampleAge)
	return s
}

// Kind returns KindMultilateration.
func (s *Multilateration) Kind() Kind { return KindMultilateration }

// Setup precomputes the anchor table and the half-sphere reference, which is
// the sample with the lowest y.
func (s *Multilateration) Setup(samples []*contact.Sample, motors []*motor.Motor) error {
	if len(samples) < 3 {
		return fmt.Errorf("%w: multilateration needs at least 3 contact points, got %d", ErrInvalidSetup, len(samples))
	}
	s.bind(samples, motors)
	s.measurements = make([]mlat.Measurement, len(samples))
	s.reference = 0
	for i, p := range samples {
		s.measurements[i] = mlat.Measurement{ID: p.ReceiverID, Anchor: p.Anchor}
		if p.Anchor.Y < samples[s.reference].Anchor.Y {
			s.reference = i
		}
	}
	return nil
}

// Solve runs one multilateration step.
func (s *Multilateration) Solve(now time.Time) Result {
	if !s.snapshot(now) {
		s.fadeAll()
		return Result{Outcome: OutcomeStale}
	}

	for i, p := range s.samples {
		s.measurements[i].Distance = s.readings[i].Distance(p.Radius)
	}
	point, err := mlat.Solve(s.measurements)
	if err != nil {
		return Result{Outcome: OutcomeUnsolvable, Reason: err}
	}

	if s.halfSphereCheck {
		if err := s.plausible(point); err != nil {
			return Result{Outcome: OutcomeImplausible, Point: point, Reason: err}
		}
	}

	for _, m := range s.motors {
		d := r3.Norm(r3.Sub(point, m.Anchor)) / m.Radius
		m.SetSpeed(s.speed(d))
	}

	if s.onPoint != nil {
		s.onPoint(model.SolvedPoint{GroupID: s.groupID, Point: point, At: now})
	}
	return Result{Outcome: OutcomeSolved, Point: point}
}

// plausible rejects points below the reference anchor or too far from it.
func (s *Multilateration) plausible(p r3.Vec) error {
	ref := s.samples[s.reference]
	if p.Y < ref.Anchor.Y {
		return fmt.Errorf("point y %.4f below reference %q y %.4f", p.Y, ref.Name, ref.Anchor.Y)
	}
	if d := r3.Norm(r3.Sub(p, ref.Anchor)); d > s.halfSphereFactor*ref.Radius {
		return fmt.Errorf("point %.4f from reference %q exceeds %.2f x radius %.4f", d, ref.Name, s.halfSphereFactor, ref.Radius)
	}
	return nil
}
