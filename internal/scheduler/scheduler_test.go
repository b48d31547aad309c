package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/patpat/internal/domain/solver"
	"github.com/okian/patpat/internal/scheduler"
	"github.com/okian/patpat/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(d time.Duration) scheduler.Ticker {
	return scheduler.RealClock{}.NewTicker(d)
}

// fakeGroup counts solves and can simulate slow processing or a panic.
type fakeGroup struct {
	name  string
	clock *fakeClock
	cost  time.Duration
	panic bool
	calls atomic.Int64
}

func (g *fakeGroup) Solve(_ context.Context, _ time.Time) solver.Result {
	g.calls.Add(1)
	if g.clock != nil {
		g.clock.Advance(g.cost)
	}
	if g.panic {
		panic("solver exploded")
	}
	return solver.Result{Outcome: solver.OutcomeSolved}
}

func (g *fakeGroup) String() string { return g.name }

type staticSource []scheduler.Group

func (s staticSource) Active() []scheduler.Group { return s }

type recordingObserver struct {
	mu       sync.Mutex
	overruns []time.Duration
	reports  [][2]int
}

func (o *recordingObserver) TickOverrun(elapsed, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overruns = append(o.overruns, elapsed)
}

func (o *recordingObserver) TPSReported(observed, setpoint int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, [2]int{observed, setpoint})
}

func TestConfigure(t *testing.T) {
	_ = logger.Init()

	Convey("Given a scheduler", t, func() {
		s := scheduler.New(staticSource{})

		Convey("Then it should default to 40 tps", func() {
			So(s.TPS(), ShouldEqual, 40)
			So(s.Budget(), ShouldEqual, 25*time.Millisecond)
		})

		Convey("When configured with 30 tps", func() {
			s.Configure(30)
			So(s.Budget(), ShouldEqual, time.Second/30)
			So(scheduler.Period(30), ShouldEqual, 33*time.Millisecond)
		})

		Convey("When configured with an invalid rate", func() {
			s.Configure(0)
			So(s.TPS(), ShouldEqual, 40)
			s.Configure(-5)
			So(s.TPS(), ShouldEqual, 40)
		})

		Convey("Then very high rates should keep a positive period", func() {
			So(scheduler.Period(5000), ShouldEqual, time.Millisecond)
			So(scheduler.Period(3), ShouldEqual, 333*time.Millisecond)
		})
	})
}

func TestTickOverrun(t *testing.T) {
	_ = logger.Init()

	Convey("Given two groups at 40 tps with a 30ms processing spike", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		slow := &fakeGroup{name: "slow", clock: clock, cost: 30 * time.Millisecond}
		other := &fakeGroup{name: "other"}
		obs := &recordingObserver{}
		s := scheduler.New(staticSource{slow, other},
			scheduler.WithClock(clock), scheduler.WithTPS(40), scheduler.WithObserver(obs))
		ctx := context.Background()

		ran := s.Tick(ctx)

		Convey("Then the tick should run and flag the next one for skipping", func() {
			So(ran, ShouldBeTrue)
			So(s.SkipPending(), ShouldBeTrue)
			So(obs.overruns, ShouldResemble, []time.Duration{30 * time.Millisecond})
		})

		Convey("When the following tick fires", func() {
			ran := s.Tick(ctx)

			Convey("Then it should perform no solving across all groups", func() {
				So(ran, ShouldBeFalse)
				So(slow.calls.Load(), ShouldEqual, 1)
				So(other.calls.Load(), ShouldEqual, 1)
				So(s.SkipPending(), ShouldBeFalse)
			})

			Convey("And the tick after that should resume", func() {
				slow.cost = time.Millisecond
				So(s.Tick(ctx), ShouldBeTrue)
				So(slow.calls.Load(), ShouldEqual, 2)
				So(other.calls.Load(), ShouldEqual, 2)
				So(s.SkipPending(), ShouldBeFalse)

				stats := s.Stats()
				So(stats.Ticks, ShouldEqual, 2)
				So(stats.Skipped, ShouldEqual, 1)
				So(stats.Overruns, ShouldEqual, 1)
			})
		})

		Convey("When many ticks overrun in a row", func() {
			slow.cost = 200 * time.Millisecond

			Convey("Then only one skip should be carried forward each time", func() {
				So(s.Tick(ctx), ShouldBeFalse) // skip from the first spike
				So(s.Tick(ctx), ShouldBeTrue)
				So(s.Tick(ctx), ShouldBeFalse)
				So(s.Tick(ctx), ShouldBeTrue)
			})
		})
	})

	Convey("Given a tick exactly at its budget", t, func() {
		clock := &fakeClock{now: time.Unix(0, 0)}
		g := &fakeGroup{name: "edge", clock: clock, cost: 25 * time.Millisecond}
		s := scheduler.New(staticSource{g}, scheduler.WithClock(clock), scheduler.WithTPS(40))

		s.Tick(context.Background())

		So(s.SkipPending(), ShouldBeTrue)
	})
}

func TestTickIsolatesFailures(t *testing.T) {
	_ = logger.Init()

	Convey("Given a group that panics between two healthy ones", t, func() {
		a, bad, b := &fakeGroup{name: "a"}, &fakeGroup{name: "bad", panic: true}, &fakeGroup{name: "b"}
		s := scheduler.New(staticSource{a, bad, b})

		So(func() { s.Tick(context.Background()) }, ShouldNotPanic)

		Convey("Then the other groups should still be solved", func() {
			So(a.calls.Load(), ShouldEqual, 1)
			So(bad.calls.Load(), ShouldEqual, 1)
			So(b.calls.Load(), ShouldEqual, 1)
		})
	})
}

func TestReportTPS(t *testing.T) {
	_ = logger.Init()

	Convey("Given ticks counted in a window", t, func() {
		obs := &recordingObserver{}
		s := scheduler.New(staticSource{}, scheduler.WithTPS(10), scheduler.WithObserver(obs))
		for i := 0; i < 8; i++ {
			s.Tick(context.Background())
		}

		Convey("When the window is reported", func() {
			observed := s.ReportTPS()

			Convey("Then the counter should be emitted and reset", func() {
				So(observed, ShouldEqual, 8)
				So(obs.reports, ShouldResemble, [][2]int{{8, 10}})
				So(s.Stats().ObservedTPS, ShouldEqual, 8)
				So(s.ReportTPS(), ShouldEqual, 0)
			})
		})
	})
}

func TestStartStop(t *testing.T) {
	_ = logger.Init()

	Convey("Given a running scheduler", t, func() {
		g := &fakeGroup{name: "g"}
		s := scheduler.New(staticSource{g}, scheduler.WithTPS(200))
		So(s.Start(context.Background()), ShouldEqual, nil)
		So(s.Start(context.Background()), ShouldEqual, scheduler.ErrAlreadyStarted)

		Convey("When it runs for a while and is reconfigured", func() {
			time.Sleep(50 * time.Millisecond)
			s.Configure(100)
			time.Sleep(30 * time.Millisecond)
			So(s.Stats().Running, ShouldBeTrue)
			So(s.Stop(), ShouldBeNil)

			Convey("Then groups should have been solved and no tick runs after Stop", func() {
				n := g.calls.Load()
				So(n, ShouldBeGreaterThan, 0)
				time.Sleep(20 * time.Millisecond)
				So(g.calls.Load(), ShouldEqual, n)
				So(s.Stats().Running, ShouldBeFalse)
				So(s.Stop(), ShouldEqual, scheduler.ErrNotStarted)
			})
		})
	})
}

func TestExclusive(t *testing.T) {
	_ = logger.Init()

	Convey("Given a tick in flight", t, func() {
		release := make(chan struct{})
		entered := make(chan struct{})
		g := &blockingGroup{entered: entered, release: release}
		s := scheduler.New(staticSource{g})

		go s.Tick(context.Background())
		<-entered

		var ran atomic.Bool
		done := make(chan struct{})
		go func() {
			s.Exclusive(func() { ran.Store(true) })
			close(done)
		}()

		Convey("Then Exclusive should wait for the tick to finish", func() {
			time.Sleep(20 * time.Millisecond)
			So(ran.Load(), ShouldBeFalse)
			close(release)
			<-done
			So(ran.Load(), ShouldBeTrue)
		})
	})
}

type blockingGroup struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGroup) Solve(context.Context, time.Time) solver.Result {
	close(g.entered)
	<-g.release
	return solver.Result{}
}

func (g *blockingGroup) String() string { return "blocking" }

// manualClock hands out tickers that only fire when the test sends on them.
type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (c *manualClock) Now() time.Time { return time.Now() }

func (c *manualClock) NewTicker(d time.Duration) scheduler.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{c: make(chan time.Time, 1), period: d}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *manualClock) ticker(i int) *manualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[i]
}

type manualTicker struct {
	c      chan time.Time
	mu     sync.Mutex
	period time.Duration
	resets []time.Duration
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               {}

func (t *manualTicker) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets = append(t.resets, d)
}

func (t *manualTicker) Resets() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.resets...)
}

// gateGroup blocks its first solve until release is closed.
type gateGroup struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateGroup) Solve(context.Context, time.Time) solver.Result {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return solver.Result{}
}

func (g *gateGroup) String() string { return "gate" }

func TestRestartUsesCurrentRate(t *testing.T) {
	_ = logger.Init()

	Convey("Given a scheduler reconfigured while its last tick was still running", t, func() {
		clock := &manualClock{}
		g := &gateGroup{entered: make(chan struct{}, 1), release: make(chan struct{})}
		s := scheduler.New(staticSource{g}, scheduler.WithClock(clock))
		So(s.Start(context.Background()), ShouldBeNil)

		clock.ticker(0).c <- time.Now()
		<-g.entered
		s.Configure(20)
		go func() {
			time.Sleep(10 * time.Millisecond)
			close(g.release)
		}()
		So(s.Stop(), ShouldBeNil)

		Convey("When it is reconfigured and started again", func() {
			s.Configure(100)
			So(s.Start(context.Background()), ShouldBeNil)
			defer func() { _ = s.Stop() }()
			time.Sleep(20 * time.Millisecond)

			Convey("Then the new ticker should keep the current period", func() {
				tick := clock.ticker(2)
				So(tick.period, ShouldEqual, 10*time.Millisecond)
				So(tick.Resets(), ShouldBeEmpty)
			})
		})
	})
}
