package events

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded FIFO of progress events with one producer and one
// consumer. Push never blocks, so a runner is never slowed by its observer.
type Queue struct {
	mu      sync.Mutex
	items   []Progress
	pending chan struct{}
}

func NewQueue() *Queue {
	return &Queue{pending: make(chan struct{}, 1)}
}

func (q *Queue) Emit(p Progress) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.pending <- struct{}{}:
	default:
	}
}

// Next waits up to timeout for the oldest event. ok is false on timeout or
// when ctx is done.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (Progress, bool) {
	if p, ok := q.pop(); ok {
		return p, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.pending:
			if p, ok := q.pop(); ok {
				return p, true
			}
		case <-timer.C:
			return q.pop()
		case <-ctx.Done():
			return Progress{}, false
		}
	}
}

// Drain removes and returns everything still queued.
func (q *Queue) Drain() []Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (Progress, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Progress{}, false
	}
	p := q.items[0]
	q.items[0] = Progress{}
	q.items = q.items[1:]
	return p, true
}
