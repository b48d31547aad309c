// Package scheduler drives the contact group solvers at a fixed tick rate.
//
// One goroutine runs the tick loop. All groups of a tick are solved
// sequentially on it, ticks never overlap, and a tick that uses its whole
// budget causes exactly the next tick to be skipped.
package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/solver"
	"github.com/okian/patpat/pkg/logger"
	"github.com/okian/patpat/pkg/metrics"
)

const reportInterval = time.Second

// Group is solved once per tick.
type Group interface {
	Solve(ctx context.Context, now time.Time) solver.Result
	String() string
}

// Source returns the groups active for the next tick.
type Source interface {
	Active() []Group
}

// Observer receives scheduler events. Implementations must not block.
type Observer interface {
	TickOverrun(elapsed, budget time.Duration)
	TPSReported(observed, setpoint int)
}

// Stats is a point in time view of the scheduler.
type Stats struct {
	Running     bool          `json:"running"`
	TPS         int           `json:"tps"`
	Budget      time.Duration `json:"budget_ns"`
	ObservedTPS int           `json:"observed_tps"`
	Ticks       int64         `json:"ticks"`
	Skipped     int64         `json:"skipped"`
	Overruns    int64         `json:"overruns"`
	LastElapsed time.Duration `json:"last_elapsed_ns"`
}

// Scheduler invokes every active group once per tick.
type Scheduler struct {
	source     Source
	clock      Clock
	log        logger.Logger
	observers  []Observer
	initialTPS int

	// tickMu is held while a tick runs and by Exclusive.
	tickMu   sync.Mutex
	skipNext bool

	tps         atomic.Int64
	budget      atomic.Int64
	tickCounter atomic.Int64
	observed    atomic.Int64
	ticks       atomic.Int64
	skipped     atomic.Int64
	overruns    atomic.Int64
	lastElapsed atomic.Int64

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
	reconfigure chan time.Duration
}

// New creates a Scheduler reading its groups from source.
func New(source Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:      source,
		clock:       RealClock{},
		initialTPS:  config.DefaultTPS,
		reconfigure: make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("scheduler")
	}
	s.Configure(s.initialTPS)
	return s
}

// Configure sets the tick rate. The budget becomes 1e9/tps ns and the ticker
// period round(1000/tps) ms. tps <= 0 falls back to the default rate.
func (s *Scheduler) Configure(tps int) {
	if tps <= 0 {
		s.log.Warn(context.Background(), "invalid tick rate, using default",
			logger.Int("tps", tps), logger.Int("default", config.DefaultTPS))
		tps = config.DefaultTPS
	}
	s.tps.Store(int64(tps))
	s.budget.Store(int64(time.Second) / int64(tps))
	metrics.UpdateConfiguredTPS(tps)

	period := Period(tps)
	s.mu.Lock()
	if s.started {
		// keep only the latest request
		select {
		case <-s.reconfigure:
		default:
		}
		s.reconfigure <- period
	}
	s.mu.Unlock()
	s.log.Debug(context.Background(), "tick rate configured",
		logger.Int("tps", tps), logger.Duration("period", period), logger.Duration("budget", s.Budget()))
}

// Period returns the ticker period for tps: round(1000/tps) ms, at least 1 ms.
func Period(tps int) time.Duration {
	ms := math.Round(1000 / float64(tps))
	return time.Duration(max(ms, 1)) * time.Millisecond
}

// TPS returns the configured tick rate.
func (s *Scheduler) TPS() int { return int(s.tps.Load()) }

// Budget returns the processing time a tick may use.
func (s *Scheduler) Budget() time.Duration { return time.Duration(s.budget.Load()) }

// Start runs the tick loop until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	// drop a period requested while the previous run was shutting down
	select {
	case <-s.reconfigure:
	default:
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true

	ticker := s.clock.NewTicker(Period(s.TPS()))
	report := s.clock.NewTicker(reportInterval)
	go s.run(ctx, ticker, report)

	s.log.Info(ctx, "scheduler started", logger.Int("tps", s.TPS()))
	return nil
}

// Stop ends the tick loop after the in-flight tick, if any, has completed.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info(context.Background(), "scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context, ticker, report Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.reconfigure:
			ticker.Reset(d)
		case <-ticker.C():
			s.Tick(ctx)
		case <-report.C():
			s.ReportTPS()
		}
	}
}

// Tick solves every active group once, unless the previous tick overran, in
// which case it only clears the skip flag. It reports whether groups were solved.
func (s *Scheduler) Tick(ctx context.Context) bool {
	elapsed, ran, overrun := s.tick(ctx)
	if !ran {
		return false
	}
	if overrun {
		budget := s.Budget()
		s.log.Warn(ctx, "tick overran its budget, skipping next tick",
			logger.Duration("elapsed", elapsed), logger.Duration("budget", budget))
		for _, o := range s.observers {
			o.TickOverrun(elapsed, budget)
		}
	}
	return true
}

func (s *Scheduler) tick(ctx context.Context) (time.Duration, bool, bool) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.skipNext {
		s.skipNext = false
		s.skipped.Add(1)
		metrics.RecordTickSkipped()
		return 0, false, false
	}

	start := s.clock.Now()
	for _, g := range s.source.Active() {
		s.solve(ctx, g, start)
	}
	elapsed := s.clock.Now().Sub(start)

	s.tickCounter.Add(1)
	s.ticks.Add(1)
	s.lastElapsed.Store(int64(elapsed))
	metrics.RecordTick(elapsed)

	overrun := elapsed >= s.Budget()
	if overrun {
		s.skipNext = true
		s.overruns.Add(1)
		metrics.RecordTickOverrun()
	}
	return elapsed, true, overrun
}

// solve runs one group, containing any panic to that group.
func (s *Scheduler) solve(ctx context.Context, g Group, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordSolveError(g.String())
			s.log.Error(ctx, "group solve failed",
				logger.String("group", g.String()), logger.Any("panic", r))
		}
	}()
	g.Solve(ctx, now)
}

// ReportTPS publishes the ticks counted since the last report and resets the counter.
func (s *Scheduler) ReportTPS() int {
	observed := int(s.tickCounter.Swap(0))
	setpoint := s.TPS()
	s.observed.Store(int64(observed))
	metrics.UpdateObservedTPS(observed)

	if observed < setpoint-1 {
		s.log.Warn(context.Background(), "tick rate below setpoint",
			logger.Int("observed", observed), logger.Int("setpoint", setpoint))
	}
	for _, o := range s.observers {
		o.TPSReported(observed, setpoint)
	}
	return observed
}

// Exclusive runs fn while no tick is in flight.
func (s *Scheduler) Exclusive(fn func()) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	fn()
}

// SkipPending reports whether the next tick will be skipped.
func (s *Scheduler) SkipPending() bool {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.skipNext
}

// Stats returns counters and settings.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.started
	s.mu.Unlock()
	return Stats{
		Running:     running,
		TPS:         s.TPS(),
		Budget:      s.Budget(),
		ObservedTPS: int(s.observed.Load()),
		Ticks:       s.ticks.Load(),
		Skipped:     s.skipped.Load(),
		Overruns:    s.overruns.Load(),
		LastElapsed: time.Duration(s.lastElapsed.Load()),
	}
}
