package scheduler

import (
	"github.com/okian/patpat/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTPS sets the initial tick rate. Invalid values fall back to the default.
func WithTPS(tps int) Option {
	return func(s *Scheduler) {
		s.initialTPS = tps
	}
}

// WithObserver registers an observer for overruns and TPS reports.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}
