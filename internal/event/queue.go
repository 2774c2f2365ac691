package event

import (
	"sync"

	"github.com/tessro/tinymon/internal/logging"
)

// Queue runs submitted functions one at a time, in submission order, on its
// own goroutine. Submit never blocks, so it is safe to call while holding a
// lock that the submitted functions themselves may need.
type Queue struct {
	mu sync.Mutex
	// +checklocks:mu
	pending []func()
	// +checklocks:mu
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewQueue starts a queue.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit schedules fn. It reports false if the queue is closed.
func (q *Queue) Submit(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting work. Work already submitted still runs.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the queue is closed and drained.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range batch {
			q.call(fn)
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// call runs one function, recovering so a panicking listener cannot stop
// delivery of later work.
func (q *Queue) call(fn func()) {
	defer logging.LogPanic("event-queue", nil)
	fn()
}

// AsyncEmitter delivers events to registered handlers from a Queue, in
// emission order.
type AsyncEmitter[E any] struct {
	Emitter[E]
	queue *Queue
}

// NewAsyncEmitter creates an emitter delivering on q.
func NewAsyncEmitter[E any](q *Queue) *AsyncEmitter[E] {
	return &AsyncEmitter[E]{queue: q}
}

// Emit schedules delivery of event to the handlers registered at delivery
// time. It reports false if the queue is closed.
func (e *AsyncEmitter[E]) Emit(event E) bool {
	return e.queue.Submit(func() {
		e.Emitter.Emit(event)
	})
}
