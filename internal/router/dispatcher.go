package router

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/threadscribe/internal/event"
)

var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Outcome is the terminal result for one submitted event.
type Outcome struct {
	Decision *event.Decision
	Err      error
}

type queuedEvent struct {
	ev   *event.Event
	done chan Outcome
}

// Dispatcher serializes event processing per thread while running threads in
// parallel. Workflow transitions within a thread are not commutative, so each
// thread gets its own FIFO queue and worker; there is no cross-thread
// ordering and none is needed.
type Dispatcher struct {
	router    *Router
	queueSize int

	mu     sync.Mutex
	queues map[string]chan queuedEvent
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(router *Router, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		router:    router,
		queueSize: queueSize,
		queues:    make(map[string]chan queuedEvent),
	}
}

// Submit enqueues an event behind any earlier events for the same thread.
// The returned channel delivers exactly one Outcome.
func (d *Dispatcher) Submit(ctx context.Context, ev *event.Event) (<-chan Outcome, error) {
	done := make(chan Outcome, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	key := ev.TenantID + "/" + ev.ThreadID
	q, ok := d.queues[key]
	if !ok {
		q = make(chan queuedEvent, d.queueSize)
		d.queues[key] = q
		d.wg.Add(1)
		go d.worker(key, q)
	}
	d.mu.Unlock()

	select {
	case q <- queuedEvent{ev: ev, done: done}:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) worker(key string, q chan queuedEvent) {
	defer d.wg.Done()
	for item := range q {
		decision, err := d.router.Process(context.Background(), item.ev)
		if err != nil {
			log.Warn().Err(err).Str("thread", key).Str("event_id", item.ev.ID).Msg("event processing failed")
		}
		item.done <- Outcome{Decision: decision, Err: err}
	}
}

// Close stops accepting events and waits for every queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
