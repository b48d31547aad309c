package solver

import (
	"fmt"
	"time"

	"github.com/okian/patpat/internal/domain/contact"
	"github.com/okian/patpat/internal/domain/motor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AggregateDistance folds all sample distances into one value and drives every
// motor of the group with the same speed.
type AggregateDistance struct {
	base

	mode      Aggregate
	distances []float64
}

func newAggregateDistance(spec Spec) *AggregateDistance {
	s := &AggregateDistance{mode: spec.Aggregate}
	s.init(spec, DefaultAggregateMaxSampleAge)
	return s
}

// Kind returns KindAggregateDistance.
func (s *AggregateDistance) Kind() Kind { return KindAggregateDistance }

// Mode returns the aggregate mode.
func (s *AggregateDistance) Mode() Aggregate { return s.mode }

// Setup binds samples and motors.
func (s *AggregateDistance) Setup(samples []*contact.Sample, motors []*motor.Motor) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: aggregate distance needs at least one contact point", ErrInvalidSetup)
	}
	s.bind(samples, motors)
	s.distances = make([]float64, len(samples))
	return nil
}

// Solve runs one aggregate step.
func (s *AggregateDistance) Solve(now time.Time) Result {
	if !s.snapshot(now) {
		s.fadeAll()
		return Result{Outcome: OutcomeStale}
	}

	for i, p := range s.samples {
		s.distances[i] = s.readings[i].Distance(p.Radius)
	}

	var distance float64
	switch s.mode {
	case AggregateMin:
		distance = floats.Min(s.distances)
	case AggregateMax:
		distance = floats.Max(s.distances)
	default:
		distance = stat.Mean(s.distances, nil)
	}

	speed := s.speed(distance)
	for _, m := range s.motors {
		m.SetSpeed(speed)
	}
	return Result{Outcome: OutcomeSolved, Distance: distance}
}
