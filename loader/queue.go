package loader

import (
	"context"
	"sync"
)

// Executor runs closures on the primary goroutine.
type Executor interface {
	Execute(fn func())
}

// Queue is an unbounded FIFO Executor. Whichever goroutine calls Drain or
// Run is the primary goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	signal  chan struct{}
}

var _ Executor = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Execute enqueues fn. It never blocks and may be called from any goroutine.
func (q *Queue) Execute(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Drain runs queued closures on the calling goroutine, including any queued
// while draining, and returns how many ran.
func (q *Queue) Drain() int {
	ran := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Run drains the queue whenever work arrives until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
	}
}
