// Package queue is the bounded buffer between sensors and the decision
// pipeline. Overflow policy is drop-oldest: for a live monitor the newest
// observation is the most actionable, so under a full queue the oldest
// unprocessed event is discarded and counted rather than the producer
// blocking or the new event being rejected.
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/archiegate/guardian/internal/model"
)

// DefaultCapacity bounds the queue when the config does not.
const DefaultCapacity = 256

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = fmt.Errorf("event queue is closed")

// Queue is a bounded, thread-safe event buffer. FIFO within a single
// producer; no ordering guarantee across producers.
type Queue struct {
	mu      sync.Mutex
	ch      chan model.Event
	closed  bool
	dropped atomic.Uint64
}

// New creates a queue with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan model.Event, capacity)}
}

// Enqueue adds an event without ever blocking the producer. When the queue
// is full the oldest buffered event is dropped to make room.
func (q *Queue) Enqueue(ev model.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	for {
		select {
		case q.ch <- ev:
			return nil
		default:
		}
		// Full: evict the oldest and retry. The consumer may have raced us
		// and drained a slot, in which case the eviction receive misses and
		// the next send attempt succeeds.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Dequeue blocks until an event is available or the queue is shut down.
// ok is false only after Close once the buffer has drained; buffered events
// are always delivered first.
func (q *Queue) Dequeue() (ev model.Event, ok bool) {
	ev, ok = <-q.ch
	return ev, ok
}

// Close shuts the queue down. Buffered events remain dequeueable; further
// Enqueue calls fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Dropped returns how many events were evicted by the drop-oldest policy.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}
