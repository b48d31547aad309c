package registry

import (
	"time"

	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/pkg/logger"
)

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithPointObserver forwards solved points of every multilateration group to fn.
func WithPointObserver(fn func(model.SolvedPoint)) Option {
	return func(r *Registry) {
		r.onPoint = fn
	}
}

// WithController sets the scheduler used for tick rate changes and group teardown.
// It can also be set later with Bind.
func WithController(c Controller) Option {
	return func(r *Registry) {
		r.ctrl = c
	}
}

// WithNow sets the clock used for views.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
