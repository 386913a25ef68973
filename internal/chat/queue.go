package chat

import (
	"sync"

	chaterrors "chatd/internal/errors"
)

// Queue is an unbounded, ordered, multi-producer single-consumer event
// queue.  Push never blocks on a slow consumer; events from a single
// producer are delivered in the order that producer pushed them.
type Queue struct {
	in   chan Event
	out  chan Event
	done chan struct{}
	once sync.Once
}

// NewQueue starts the queue's pump goroutine.  Call Close to stop it.
func NewQueue() *Queue {
	q := &Queue{
		in:   make(chan Event),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push enqueues ev.  It fails with ErrQueueClosed once Close has been
// called.
func (q *Queue) Push(ev Event) error {
	select {
	case <-q.done:
		return chaterrors.ErrQueueClosed
	default:
	}
	select {
	case q.in <- ev:
		return nil
	case <-q.done:
		return chaterrors.ErrQueueClosed
	}
}

// Events is the consumer side.  It is closed after Close.
func (q *Queue) Events() <-chan Event {
	return q.out
}

// Close stops the queue.  Pending events are dropped.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue) pump() {
	defer close(q.out)

	var pending []Event
	for {
		var out chan Event
		var head Event
		if len(pending) > 0 {
			out = q.out
			head = pending[0]
		}

		select {
		case ev := <-q.in:
			pending = append(pending, ev)
		case out <- head:
			pending[0] = Event{}
			pending = pending[1:]
		case <-q.done:
			return
		}
	}
}
