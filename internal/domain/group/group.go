// Package group builds contact groups from configuration and runs their solver.
package group

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/contact"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/motor"
	"github.com/okian/patpat/internal/domain/solver"
	"github.com/okian/patpat/internal/domain/types"
	"github.com/okian/patpat/pkg/logger"
	"github.com/okian/patpat/pkg/metrics"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidGroup wraps every configuration problem found while building a group.
var ErrInvalidGroup = errors.New("invalid contact group")

// OutputResolver returns the device output for a device id.
type OutputResolver func(deviceID int) motor.Output

// Option applies a configuration option to a Group.
type Option func(*options)

type options struct {
	log     logger.Logger
	onPoint func(model.SolvedPoint)
}

// WithLogger sets the group logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPointObserver registers fn for solved points of multilateration groups.
func WithPointObserver(fn func(model.SolvedPoint)) Option {
	return func(o *options) {
		o.onPoint = fn
	}
}

// Group owns the contact points, motors and solver of one configured entry.
// A group is immutable once built; configuration changes build a new group.
type Group struct {
	ID          int
	Key         string
	Name        string
	ContactOnly bool
	Samples     []*contact.Sample
	Motors      []*motor.Motor
	Solver      solver.Solver

	log     logger.Logger
	closed  atomic.Bool
	outcome atomic.Int32
	solved  atomic.Bool
}

// New builds the group stored under groups.<key>.
func New(key string, cfg config.GroupConfig, resolve OutputResolver, opts ...Option) (*Group, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("group")
	}
	if resolve == nil {
		return nil, fmt.Errorf("%w %q: no output resolver", ErrInvalidGroup, key)
	}

	kind, err := solver.ParseKind(cfg.Solver.SolverType)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGroup, key, err)
	}
	mode, err := solver.ParseAggregate(cfg.Solver.SingleN2NMode)
	if err != nil && kind == solver.KindAggregateDistance {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGroup, key, err)
	}

	g := &Group{
		ID:          cfg.ID,
		Key:         key,
		Name:        cfg.Name,
		ContactOnly: cfg.Solver.ContactOnly,
		log:         o.log,
	}

	for i, pc := range cfg.AvatarPoints {
		anchor, err := vec(pc.XYZ)
		if err != nil {
			return nil, fmt.Errorf("%w %q: avatar_points[%d]: %w", ErrInvalidGroup, key, i, err)
		}
		s, err := contact.New(pc.Name, pc.ReceiverID, anchor, pc.R)
		if err != nil {
			return nil, fmt.Errorf("%w %q: avatar_points[%d]: %w", ErrInvalidGroup, key, i, err)
		}
		g.Samples = append(g.Samples, s)
	}

	observe := motor.WithObserver(func(m *motor.Motor, pwm int) {
		metrics.UpdateMotorPWM(key, m.Name, pwm)
	})
	for i, mc := range cfg.Motors {
		anchor, err := vec(mc.XYZ)
		if err != nil {
			return nil, fmt.Errorf("%w %q: motors[%d]: %w", ErrInvalidGroup, key, i, err)
		}
		if len(mc.ESPAddr) != 2 {
			return nil, fmt.Errorf("%w %q: motors[%d]: esp_addr must be [device, channel], got %v", ErrInvalidGroup, key, i, mc.ESPAddr)
		}
		addr := motor.Address{DeviceID: mc.ESPAddr[0], Channel: mc.ESPAddr[1]}
		m, err := motor.New(motor.Spec{
			Name:    mc.Name,
			Address: addr,
			Anchor:  anchor,
			Radius:  mc.R,
			MinPWM:  mc.MinPWM,
			MaxPWM:  mc.MaxPWM,
		}, resolve(addr.DeviceID), observe)
		if err != nil {
			return nil, fmt.Errorf("%w %q: motors[%d]: %w", ErrInvalidGroup, key, i, err)
		}
		g.Motors = append(g.Motors, m)
	}

	s, err := solver.New(solver.Spec{
		Kind:             kind,
		GroupID:          cfg.ID,
		Strength:         cfg.Solver.Strength,
		ContactOnly:      cfg.Solver.ContactOnly,
		MaxSampleAge:     time.Duration(cfg.Solver.MaxSampleAgeMS) * time.Millisecond,
		HalfSphereCheck:  cfg.Solver.HalfSphereCheck,
		HalfSphereFactor: cfg.Solver.HalfSphereFactor,
		OnPoint:          o.onPoint,
		Aggregate:        mode,
	})
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGroup, key, err)
	}
	if err := s.Setup(g.Samples, g.Motors); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidGroup, key, err)
	}
	g.Solver = s
	return g, nil
}

func vec(xyz []float64) (r3.Vec, error) {
	if len(xyz) != 3 {
		return r3.Vec{}, fmt.Errorf("xyz must have 3 components, got %d", len(xyz))
	}
	return r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// Solve runs the solver once. A closed group does nothing.
func (g *Group) Solve(ctx context.Context, now time.Time) solver.Result {
	if g.closed.Load() {
		return solver.Result{Outcome: solver.OutcomeStale}
	}
	res := g.Solver.Solve(now)

	prev := solver.Outcome(g.outcome.Swap(int32(res.Outcome)))
	first := !g.solved.Swap(true)
	metrics.RecordSolveOutcome(g.Key, res.Outcome.String())
	if res.Reason != nil {
		g.log.Debug(ctx, "no output this tick",
			logger.String("group", g.Key),
			logger.String("outcome", res.Outcome.String()),
			logger.Error(res.Reason))
	} else if first || prev != res.Outcome {
		g.log.Debug(ctx, "solver outcome changed",
			logger.String("group", g.Key),
			logger.String("outcome", res.Outcome.String()))
	}
	return res
}

// String returns the group key.
func (g *Group) String() string { return g.Key }

// SetStrength updates the solver output scale in percent.
func (g *Group) SetStrength(percent int) { g.Solver.SetStrength(percent) }

// Strength returns the solver output scale in percent.
func (g *Group) Strength() int { return g.Solver.Strength() }

// Close stops every motor. It must not run concurrently with Solve.
func (g *Group) Close() {
	if g.closed.Swap(true) {
		return
	}
	for _, m := range g.Motors {
		m.Stop()
		metrics.RemoveMotorPWM(g.Key, m.Name)
	}
}

// Closed reports whether Close was called.
func (g *Group) Closed() bool { return g.closed.Load() }

// View returns the visible state of the group.
func (g *Group) View(now time.Time) types.GroupView {
	v := types.GroupView{
		ID:          g.ID,
		Key:         g.Key,
		Name:        g.Name,
		Solver:      g.Solver.Kind().String(),
		Strength:    g.Strength(),
		ContactOnly: g.ContactOnly,
		Motors:      make([]types.MotorView, 0, len(g.Motors)),
		Points:      make([]types.PointView, 0, len(g.Samples)),
	}
	if g.solved.Load() {
		v.LastOutcome = solver.Outcome(g.outcome.Load()).String()
	}
	for _, m := range g.Motors {
		v.Motors = append(v.Motors, types.MotorView{
			Name:     m.Name,
			DeviceID: m.Address.DeviceID,
			Channel:  m.Address.Channel,
			PWM:      m.CurrentPWM(),
		})
	}
	for _, s := range g.Samples {
		r := s.Snapshot()
		age := int64(-1)
		if !r.At.IsZero() {
			age = r.Age(now).Milliseconds()
		}
		v.Points = append(v.Points, types.PointView{
			Name:       s.Name,
			ReceiverID: s.ReceiverID,
			Value:      r.Value,
			AgeMS:      age,
		})
	}
	return v
}
