// Package queue buffers contact readings between the ingestion front ends and
// the worker that records them.
//
// Enqueue never blocks: a full queue rejects the reading so a burst from the
// avatar client cannot stall an HTTP handler or the MQTT client.
package queue

import (
	"context"
	"sync"

	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/pkg/metrics"
)

const defaultCapacity = 4096

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a reading. It returns ErrFull or ErrClosed when the reading
	// was not accepted.
	Enqueue(ctx context.Context, r model.Reading) error

	// Dequeue returns a channel that receives readings until the queue is
	// closed and drained or ctx is done.
	Dequeue(ctx context.Context) <-chan model.Reading

	// Len returns the number of queued readings.
	Len() int

	// Cap returns the queue capacity.
	Cap() int

	// Close stops accepting readings. Queued readings can still be dequeued.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	readings chan model.Reading
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.readings = make(chan model.Reading, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a reading without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r model.Reading) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return err
	}

	select {
	case q.readings <- r:
		metrics.UpdateQueueSize(len(q.readings))
		return nil
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return ErrFull
	}
}

// Dequeue returns a channel fed from the queue.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.Reading {
	out := make(chan model.Reading)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-q.readings:
				if !ok {
					return
				}
				metrics.UpdateQueueSize(len(q.readings))
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of queued readings.
func (q *InMemoryQueue) Len() int { return len(q.readings) }

// Cap returns the queue capacity.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close stops accepting readings.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.readings)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
