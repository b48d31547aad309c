package solver_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/patpat/internal/domain/contact"
	"github.com/okian/patpat/internal/domain/mlat"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/motor"
	"github.com/okian/patpat/internal/domain/solver"
	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/spatial/r3"
)

// pins is a motor.Output that records sends per channel.
type pins struct {
	sends map[int][]int
}

func newPins() *pins { return &pins{sends: map[int][]int{}} }

func (p *pins) SetAndSendPinValues(channel, pwm int) {
	p.sends[channel] = append(p.sends[channel], pwm)
}

func (p *pins) reset() { p.sends = map[int][]int{} }

func (p *pins) total() int {
	n := 0
	for _, s := range p.sends {
		n += len(s)
	}
	return n
}

func sample(name string, anchor r3.Vec, radius float64) *contact.Sample {
	s, err := contact.New(name, "rx_"+name, anchor, radius)
	So(err, ShouldBeNil)
	return s
}

func newMotor(out motor.Output, channel int, anchor r3.Vec) *motor.Motor {
	m, err := motor.New(motor.Spec{
		Name:    "m",
		Address: motor.Address{Channel: channel},
		Anchor:  anchor,
		Radius:  1,
		MinPWM:  0,
		MaxPWM:  255,
	}, out)
	So(err, ShouldBeNil)
	return m
}

// recordDistances writes values so the samples report the given distances.
func recordDistances(samples []*contact.Sample, at time.Time, target r3.Vec) {
	for _, s := range samples {
		d := r3.Norm(r3.Sub(target, s.Anchor))
		s.Record(1-d/s.Radius, at)
	}
}

func TestNew(t *testing.T) {
	Convey("Given solver specs", t, func() {
		Convey("When the kind is known", func() {
			m, err := solver.New(solver.Spec{Kind: solver.KindMultilateration})
			So(err, ShouldBeNil)
			a, err := solver.New(solver.Spec{Kind: solver.KindAggregateDistance})
			So(err, ShouldBeNil)

			Convey("Then every solver should be one of the two variants", func() {
				for _, s := range []solver.Solver{m, a} {
					switch v := s.(type) {
					case *solver.Multilateration:
						So(v.Kind(), ShouldEqual, solver.KindMultilateration)
						So(v.MaxSampleAge(), ShouldEqual, solver.DefaultMLatMaxSampleAge)
					case *solver.AggregateDistance:
						So(v.Kind(), ShouldEqual, solver.KindAggregateDistance)
						So(v.MaxSampleAge(), ShouldEqual, solver.DefaultAggregateMaxSampleAge)
					default:
						So(v, ShouldBeNil)
					}
				}
			})
		})

		Convey("When the kind is unknown", func() {
			_, err := solver.New(solver.Spec{Kind: solver.KindUnknown})
			So(errors.Is(err, solver.ErrUnknownSolver), ShouldBeTrue)
		})

		Convey("When parsing configuration names", func() {
			k, err := solver.ParseKind("MLat")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, solver.KindMultilateration)
			k, err = solver.ParseKind("Single n:n")
			So(err, ShouldBeNil)
			So(k, ShouldEqual, solver.KindAggregateDistance)
			_, err = solver.ParseKind("Linear")
			So(errors.Is(err, solver.ErrUnknownSolver), ShouldBeTrue)

			a, err := solver.ParseAggregate("Max")
			So(err, ShouldBeNil)
			So(a, ShouldEqual, solver.AggregateMax)
			a, err = solver.ParseAggregate("")
			So(err, ShouldBeNil)
			So(a, ShouldEqual, solver.AggregateMean)
			_, err = solver.ParseAggregate("median")
			So(errors.Is(err, solver.ErrInvalidSetup), ShouldBeTrue)
		})

		Convey("When the strength is out of range", func() {
			s, _ := solver.New(solver.Spec{Kind: solver.KindAggregateDistance, Strength: 140})
			So(s.Strength(), ShouldEqual, 100)
			s.SetStrength(-5)
			So(s.Strength(), ShouldEqual, 0)
		})
	})
}

func TestFreshnessGate(t *testing.T) {
	for _, kind := range []solver.Kind{solver.KindMultilateration, solver.KindAggregateDistance} {
		Convey("Given a "+kind.String()+" solver with running motors", t, func() {
			out := newPins()
			samples := []*contact.Sample{
				sample("a", r3.Vec{}, 1),
				sample("b", r3.Vec{X: 1}, 1),
				sample("c", r3.Vec{Z: 1}, 1),
			}
			motors := []*motor.Motor{newMotor(out, 1, r3.Vec{}), newMotor(out, 2, r3.Vec{X: 1})}
			s, err := solver.New(solver.Spec{Kind: kind, Strength: 100, MaxSampleAge: 100 * time.Millisecond})
			So(err, ShouldBeNil)
			So(s.Setup(samples, motors), ShouldBeNil)
			for _, m := range motors {
				m.SetSpeed(1)
			}
			out.reset()
			now := time.Unix(50, 0)

			Convey("When one sample is older than the window", func() {
				recordDistances(samples, now, r3.Vec{X: 0.3, Y: 0.5, Z: 0.2})
				samples[1].Record(0.5, now.Add(-101*time.Millisecond))

				res := s.Solve(now)

				Convey("Then every motor should fade and none should take a new speed", func() {
					So(res.Outcome, ShouldEqual, solver.OutcomeStale)
					So(out.sends[1], ShouldResemble, []int{255 - motor.FadeStep})
					So(out.sends[2], ShouldResemble, []int{255 - motor.FadeStep})
				})
			})

			Convey("When a sample was never written", func() {
				samples[0].Record(0.5, now)
				samples[1].Record(0.5, now)

				res := s.Solve(now)

				So(res.Outcome, ShouldEqual, solver.OutcomeStale)
				So(motors[0].CurrentPWM(), ShouldEqual, 255-motor.FadeStep)
			})

			Convey("When every sample is exactly at the window edge", func() {
				recordDistances(samples, now.Add(-100*time.Millisecond), r3.Vec{X: 0.3, Y: 0.5, Z: 0.2})

				res := s.Solve(now)

				So(res.Outcome, ShouldEqual, solver.OutcomeSolved)
			})
		})
	}
}

func TestMultilaterationSolve(t *testing.T) {
	Convey("Given a multilateration solver over three coplanar contact points", t, func() {
		out := newPins()
		samples := []*contact.Sample{
			sample("a", r3.Vec{}, 1),
			sample("b", r3.Vec{X: 1}, 1),
			sample("c", r3.Vec{Z: 1}, 1),
		}
		target := r3.Vec{X: 0.3, Y: 0.5, Z: 0.2}
		near := newMotor(out, 1, target)
		far := newMotor(out, 2, r3.Vec{X: 5, Y: 5, Z: 5})

		var points []model.SolvedPoint
		s, err := solver.New(solver.Spec{
			Kind:            solver.KindMultilateration,
			GroupID:         7,
			Strength:        100,
			HalfSphereCheck: true,
			OnPoint:         func(p model.SolvedPoint) { points = append(points, p) },
		})
		So(err, ShouldBeNil)
		So(s.Setup(samples, []*motor.Motor{near, far}), ShouldBeNil)
		now := time.Unix(10, 0)

		Convey("When the samples describe a point above the plane", func() {
			recordDistances(samples, now, target)
			res := s.Solve(now)

			Convey("Then the point should be solved and motors driven by distance", func() {
				So(res.Outcome, ShouldEqual, solver.OutcomeSolved)
				So(res.Point.X, ShouldAlmostEqual, 0.3, 1e-6)
				So(res.Point.Y, ShouldAlmostEqual, 0.5, 1e-6)
				So(res.Point.Z, ShouldAlmostEqual, 0.2, 1e-6)
				// on the anchor the deadband caps speed at 0.9
				So(near.CurrentPWM(), ShouldEqual, 230)
				So(far.CurrentPWM(), ShouldEqual, 0)
			})

			Convey("And the solved point should be published", func() {
				So(points, ShouldHaveLength, 1)
				So(points[0].GroupID, ShouldEqual, 7)
				So(points[0].At, ShouldEqual, now)
			})
		})

		Convey("When the contact is binary", func() {
			cs, _ := solver.New(solver.Spec{Kind: solver.KindMultilateration, Strength: 50, ContactOnly: true})
			So(cs.Setup(samples, []*motor.Motor{near, far}), ShouldBeNil)
			recordDistances(samples, now, target)

			cs.Solve(now)

			Convey("Then motors in range should get the strength and others nothing", func() {
				So(near.CurrentPWM(), ShouldEqual, 128)
				So(far.CurrentPWM(), ShouldEqual, 0)
			})
		})

		Convey("When the spheres do not meet and the estimate is far from the reference", func() {
			wide := []*contact.Sample{
				sample("a", r3.Vec{}, 1),
				sample("b", r3.Vec{X: 4}, 1),
				sample("c", r3.Vec{Z: 4}, 1),
			}
			ws, _ := solver.New(solver.Spec{
				Kind:            solver.KindMultilateration,
				Strength:        100,
				HalfSphereCheck: true,
				OnPoint:         func(p model.SolvedPoint) { points = append(points, p) },
			})
			So(ws.Setup(wide, []*motor.Motor{near, far}), ShouldBeNil)
			for _, p := range wide {
				p.Record(0.9, now)
			}
			res := ws.Solve(now)

			Convey("Then the point should be rejected without output", func() {
				So(res.Outcome, ShouldEqual, solver.OutcomeImplausible)
				So(res.Point.Y, ShouldAlmostEqual, 0, 1e-9)
				So(out.total(), ShouldEqual, 0)
				So(points, ShouldBeEmpty)
			})
		})
	})
}

func TestHalfSphereBelowReference(t *testing.T) {
	Convey("Given spatial anchors and a contact below the lowest one", t, func() {
		out := newPins()
		samples := []*contact.Sample{
			sample("low", r3.Vec{}, 2),
			sample("b", r3.Vec{X: 1, Y: 0.5}, 2),
			sample("c", r3.Vec{Y: 0.5, Z: 1}, 2),
			sample("d", r3.Vec{Y: 1}, 2),
		}
		m := newMotor(out, 1, r3.Vec{})
		now := time.Unix(10, 0)
		// very close to the reference, well inside any distance bound
		recordDistances(samples, now, r3.Vec{X: 0.05, Y: -0.05, Z: 0.05})

		Convey("When the check is enabled", func() {
			s, _ := solver.New(solver.Spec{Kind: solver.KindMultilateration, Strength: 100, HalfSphereCheck: true})
			So(s.Setup(samples, []*motor.Motor{m}), ShouldBeNil)
			res := s.Solve(now)

			Convey("Then it should be rejected regardless of distance", func() {
				So(res.Outcome, ShouldEqual, solver.OutcomeImplausible)
				So(res.Point.Y, ShouldBeLessThan, 0)
				So(out.total(), ShouldEqual, 0)
			})
		})

		Convey("When the check is disabled", func() {
			s, _ := solver.New(solver.Spec{Kind: solver.KindMultilateration, Strength: 100})
			So(s.Setup(samples, []*motor.Motor{m}), ShouldBeNil)
			res := s.Solve(now)

			Convey("Then the point should drive the motors", func() {
				So(res.Outcome, ShouldEqual, solver.OutcomeSolved)
				So(m.CurrentPWM(), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMultilaterationUnsolvable(t *testing.T) {
	Convey("Given collinear contact points", t, func() {
		out := newPins()
		samples := []*contact.Sample{
			sample("a", r3.Vec{}, 1),
			sample("b", r3.Vec{X: 1}, 1),
			sample("c", r3.Vec{X: 2}, 1),
		}
		s, _ := solver.New(solver.Spec{Kind: solver.KindMultilateration, Strength: 100})
		So(s.Setup(samples, []*motor.Motor{newMotor(out, 1, r3.Vec{})}), ShouldBeNil)
		now := time.Unix(10, 0)
		for _, p := range samples {
			p.Record(0.5, now)
		}

		res := s.Solve(now)

		So(res.Outcome, ShouldEqual, solver.OutcomeUnsolvable)
		So(errors.Is(res.Reason, mlat.ErrUnsolvable), ShouldBeTrue)
		So(out.total(), ShouldEqual, 0)
	})

	Convey("Given fewer than three contact points", t, func() {
		s, _ := solver.New(solver.Spec{Kind: solver.KindMultilateration})
		err := s.Setup([]*contact.Sample{sample("a", r3.Vec{}, 1)}, nil)
		So(errors.Is(err, solver.ErrInvalidSetup), ShouldBeTrue)
	})
}

func TestAggregateDistance(t *testing.T) {
	Convey("Given samples yielding distances 0.2, 0.5 and 0.9", t, func() {
		now := time.Unix(10, 0)
		samples := []*contact.Sample{
			sample("a", r3.Vec{}, 1),
			sample("b", r3.Vec{X: 1}, 1),
			sample("c", r3.Vec{X: 2}, 1),
		}
		samples[0].Record(0.8, now)
		samples[1].Record(0.5, now)
		samples[2].Record(0.1, now)

		build := func(mode solver.Aggregate) (solver.Solver, *pins, []*motor.Motor) {
			out := newPins()
			motors := []*motor.Motor{newMotor(out, 1, r3.Vec{}), newMotor(out, 2, r3.Vec{X: 9})}
			s, err := solver.New(solver.Spec{Kind: solver.KindAggregateDistance, Strength: 100, Aggregate: mode})
			So(err, ShouldBeNil)
			So(s.Setup(samples, motors), ShouldBeNil)
			return s, out, motors
		}

		Convey("When the mode is max", func() {
			s, _, motors := build(solver.AggregateMax)
			res := s.Solve(now)

			Convey("Then the group distance should be 0.9 for every motor", func() {
				So(res.Outcome, ShouldEqual, solver.OutcomeSolved)
				So(res.Distance, ShouldAlmostEqual, 0.9)
				So(motors[0].CurrentPWM(), ShouldEqual, 26)
				So(motors[1].CurrentPWM(), ShouldEqual, 26)
			})
		})

		Convey("When the mode is min", func() {
			s, _, motors := build(solver.AggregateMin)
			res := s.Solve(now)
			So(res.Distance, ShouldAlmostEqual, 0.2)
			So(motors[0].CurrentPWM(), ShouldEqual, motors[1].CurrentPWM())
		})

		Convey("When the mode is mean", func() {
			s, _, _ := build(solver.AggregateMean)
			res := s.Solve(now)
			So(res.Distance, ShouldAlmostEqual, 1.6/3)
		})

		Convey("When contact only is set", func() {
			out := newPins()
			m := newMotor(out, 1, r3.Vec{})
			s, _ := solver.New(solver.Spec{Kind: solver.KindAggregateDistance, Strength: 100, ContactOnly: true, Aggregate: solver.AggregateMax})
			So(s.Setup(samples, []*motor.Motor{m}), ShouldBeNil)
			s.Solve(now)
			So(m.CurrentPWM(), ShouldEqual, 255)
		})
	})

	Convey("Given no samples", t, func() {
		s, _ := solver.New(solver.Spec{Kind: solver.KindAggregateDistance})
		So(errors.Is(s.Setup(nil, nil), solver.ErrInvalidSetup), ShouldBeTrue)
	})

	Convey("Given a zero strength", t, func() {
		out := newPins()
		m := newMotor(out, 1, r3.Vec{})
		p := sample("a", r3.Vec{}, 1)
		p.Record(0, time.Unix(1, 0))
		s, _ := solver.New(solver.Spec{Kind: solver.KindAggregateDistance, Strength: 0})
		So(s.Setup([]*contact.Sample{p}, []*motor.Motor{m}), ShouldBeNil)
		s.Solve(time.Unix(1, 0))
		So(m.CurrentPWM(), ShouldEqual, 0)
	})

	Convey("Given a running motor and a NaN reading", t, func() {
		now := time.Unix(1, 0)
		out := newPins()
		m := newMotor(out, 1, r3.Vec{})
		p := sample("a", r3.Vec{}, 1)
		s, _ := solver.New(solver.Spec{Kind: solver.KindAggregateDistance, Strength: 100, Aggregate: solver.AggregateMax})
		So(s.Setup([]*contact.Sample{p}, []*motor.Motor{m}), ShouldBeNil)
		p.Record(1, now)
		s.Solve(now)
		So(m.CurrentPWM(), ShouldBeGreaterThan, 0)

		Convey("When the solver runs on the NaN reading", func() {
			p.Record(math.NaN(), now)
			res := s.Solve(now)

			Convey("Then it should read as no contact and stop the motor", func() {
				So(res.Outcome, ShouldEqual, solver.OutcomeSolved)
				So(res.Distance, ShouldEqual, 1)
				So(m.CurrentPWM(), ShouldEqual, 0)
			})
		})
	})
}
