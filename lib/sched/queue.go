package sched

import (
	"sync"
	"time"
)

// taskQueue is a shared tier queue. Push is safe from any number of
// transport threads; workers drain it in batches. A one-slot wake channel
// avoids lost wakeups without a condition variable, so waiters can also
// select on stop and timeout.
type taskQueue struct {
	mu     sync.Mutex
	items  []*Task
	closed bool
	wake   chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{wake: make(chan struct{}, 1)}
}

// push appends a task. Returns false if the queue is closed.
func (q *taskQueue) push(t *Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// tryLoad removes and returns up to max tasks, possibly none.
func (q *taskQueue) tryLoad(max int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]*Task, n)
	copy(batch, q.items[:n])
	rest := copy(q.items, q.items[n:])
	for i := rest; i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = q.items[:rest]
	return batch
}

// wait blocks until a push signal arrives, d elapses (if d > 0), or stop
// closes. It consumes at most one signal.
func (q *taskQueue) wait(d time.Duration, stop <-chan struct{}) {
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-q.wake:
		case <-timer.C:
		case <-stop:
		}
		return
	}
	select {
	case <-q.wake:
	case <-stop:
	}
}

// size returns the current queue depth.
func (q *taskQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close prevents further pushes and wakes one waiter.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
