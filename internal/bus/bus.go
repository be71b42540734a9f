// Package bus is the in-process event channel between port connections and
// the distributor: many producers, one consumer, unbounded from the
// producer's perspective.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/meshgate/internal/event"
)

var ErrClosed = errors.New("bus: closed")

// Bus queues events in publish order. Publish never blocks and never fails;
// after Close it is a no-op, so producers outliving the distributor cannot
// crash on it.
type Bus struct {
	mu     sync.Mutex
	queue  []event.Event
	closed bool

	// notify carries at most one wakeup; the consumer re-checks the queue.
	notify chan struct{}
}

func New() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Publish enqueues one event. Per-producer order is preserved; interleaving
// across producers is unspecified.
func (b *Bus) Publish(e event.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	b.wake()
}

// Next blocks until an event is available, the context is cancelled, or the
// bus is closed and drained.
func (b *Bus) Next(ctx context.Context) (event.Event, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			e := b.queue[0]
			b.queue[0] = event.Event{}
			b.queue = b.queue[1:]
			if len(b.queue) == 0 {
				b.queue = nil
			}
			b.mu.Unlock()
			return e, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return event.Event{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-b.notify:
		}
	}
}

// Close stops accepting publishes. A blocked consumer wakes and drains
// whatever was queued before returning ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

// Depth reports the number of queued, undelivered events.
func (b *Bus) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
