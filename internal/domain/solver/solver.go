// Package solver turns contact samples into motor speeds.
//
// The variant set is closed: Multilateration and AggregateDistance are the only
// implementations of Solver, and New dispatches exhaustively over Kind.
package solver

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/okian/patpat/internal/domain/contact"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/motor"
	"gonum.org/v1/gonum/spatial/r3"
)

// Defaults for tunable thresholds.
const (
	DefaultMLatMaxSampleAge      = 150 * time.Millisecond
	DefaultAggregateMaxSampleAge = 200 * time.Millisecond
	DefaultHalfSphereFactor      = 1.3

	// deadband keeps the proportional output below full strength even when the
	// point sits on the motor anchor.
	deadband = 0.1
)

// Result describes what one Solve call did.
type Result struct {
	Outcome Outcome
	// Point is set by Multilateration when Outcome is OutcomeSolved.
	Point r3.Vec
	// Distance is the normalized distance fed to the speed mapping by AggregateDistance.
	Distance float64
	// Reason explains OutcomeUnsolvable and OutcomeImplausible.
	Reason error
}

// Solver is implemented by *Multilateration and *AggregateDistance only.
type Solver interface {
	Kind() Kind
	// Setup binds the samples and motors the solver reads and drives.
	Setup(samples []*contact.Sample, motors []*motor.Motor) error
	// SetStrength updates the output scale, clamped to [0,100] percent.
	SetStrength(percent int)
	Strength() int
	// Solve computes and applies motor speeds from the current samples. It never blocks.
	Solve(now time.Time) Result

	sealed()
}

// Spec configures a solver.
type Spec struct {
	Kind        Kind
	GroupID     int
	Strength    int
	ContactOnly bool
	// MaxSampleAge is the freshness window; zero selects the variant default.
	MaxSampleAge time.Duration

	// Multilateration only.
	HalfSphereCheck  bool
	HalfSphereFactor float64
	OnPoint          func(model.SolvedPoint)

	// AggregateDistance only.
	Aggregate Aggregate
}

// New builds the solver variant selected by spec.Kind.
func New(spec Spec) (Solver, error) {
	switch spec.Kind {
	case KindMultilateration:
		return newMultilateration(spec), nil
	case KindAggregateDistance:
		return newAggregateDistance(spec), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownSolver, spec.Kind)
	}
}

// base carries the state and rules shared by both variants.
type base struct {
	samples     []*contact.Sample
	motors      []*motor.Motor
	readings    []contact.Reading
	strength    atomic.Int32
	contactOnly bool
	maxAge      time.Duration
}

func (b *base) init(spec Spec, defaultAge time.Duration) {
	b.contactOnly = spec.ContactOnly
	b.maxAge = spec.MaxSampleAge
	if b.maxAge <= 0 {
		b.maxAge = defaultAge
	}
	b.SetStrength(spec.Strength)
}

func (b *base) bind(samples []*contact.Sample, motors []*motor.Motor) {
	b.samples = samples
	b.motors = motors
	b.readings = make([]contact.Reading, len(samples))
}

func (b *base) sealed() {}

// SetStrength updates the output scale, clamped to [0,100] percent.
func (b *base) SetStrength(percent int) {
	b.strength.Store(int32(max(0, min(100, percent))))
}

// Strength returns the output scale in percent.
func (b *base) Strength() int { return int(b.strength.Load()) }

// MaxSampleAge returns the freshness window.
func (b *base) MaxSampleAge() time.Duration { return b.maxAge }

// snapshot copies every sample reading and reports whether all are fresh.
func (b *base) snapshot(now time.Time) bool {
	fresh := true
	for i, s := range b.samples {
		b.readings[i] = s.Snapshot()
		if b.readings[i].Age(now) > b.maxAge {
			fresh = false
		}
	}
	return fresh
}

func (b *base) fadeAll() {
	for _, m := range b.motors {
		m.FadeOut()
	}
}

// speed maps a normalized distance (0 on the anchor, 1 at its edge) onto [0,1].
func (b *base) speed(distance float64) float64 {
	scale := float64(b.Strength()) / 100
	if b.contactOnly {
		if distance <= 1 {
			return scale
		}
		return 0
	}
	distance = math.Max(distance, deadband)
	return math.Max(1-distance, 0) * scale
}
