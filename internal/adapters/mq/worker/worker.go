// Package worker drains the ingestion queue into the group registry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/pkg/logger"
)

// Default worker configuration constants.
const (
	defaultPoolSize     = 2
	poolShutdownTimeout = 5 * time.Second
)

// Recorder stores a reading on every contact point it addresses.
type Recorder interface {
	RecordReading(ctx context.Context, r model.Reading) error
}

// Queue defines how workers receive readings.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Reading
}

// Worker moves readings from the queue into a Recorder.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue is drained.
	Run(ctx context.Context)

	// Shutdown stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	recorder Recorder
	name     string

	// Unrouted readings are expected while the avatar client sends ids no
	// group listens to; they are logged at debug level only.
	ignore error

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, recorder Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		recorder: recorder,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	readings := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			w.process(ctx, r)
		}
	}
}

// Shutdown stops the worker and waits for the current reading.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, r model.Reading) {
	if err := r.Validate(); err != nil {
		w.logger.Warn(ctx, "dropping invalid reading", logger.String("receiver", r.ReceiverID), logger.Error(err))
		return
	}
	err := w.recorder.RecordReading(ctx, r)
	switch {
	case err == nil:
	case w.ignore != nil && errors.Is(err, w.ignore):
		w.logger.Debug(ctx, "reading not routed", logger.String("receiver", r.ReceiverID))
	default:
		w.logger.Error(ctx, "recording reading failed", logger.String("receiver", r.ReceiverID), logger.Error(err))
	}
}

// Pool manages several workers reading from one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of size workers. size < 1 uses the default.
func NewPool(size int, q Queue, recorder Recorder, opts ...Option) *Pool {
	if size < 1 {
		size = defaultPoolSize
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, size),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, recorder, wopts...)
	}
	return p
}

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, if it can be closed, and waits for every worker.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
