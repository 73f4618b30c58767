package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// wakeReq is a single event pushed into the notifier's serialization queue.
// Exactly one of the fields below is meaningful per kind.
type wakeReq struct {
	kind    wakeKind
	db      int
	key     string
	session uint64  // timeout target, wakeTimeout/wakeDrop only
	seq     uint64  // waiter sequence, wakeTimeout only
	waiter  *waiter // wakeBlock only
}

type wakeKind uint8

const (
	// wakeBlock registers a new waiter.
	wakeBlock wakeKind = iota
	// wakeWrite reports a written key, checking its waiter list.
	wakeWrite
	// wakeTimeout fires a waiter's deadline.
	wakeTimeout
	// wakeDrop purges the waiters of a session that went away.
	wakeDrop
)

// wakeNode is a single element of the wake queue's linked list.
type wakeNode struct {
	value *wakeReq
	next  atomic.Pointer[wakeNode]
}

// wakeQueue is a lock-free multi-producer single-consumer queue carrying
// wakeReq events. Producers (store write hooks, timeout timers, session
// teardown) push concurrently; the notifier's pump goroutine is the only
// consumer, which is what serializes all wake decisions.
//
// Thread-safety: Push may be called from any number of goroutines. Recv
// must only be drained by a single goroutine.
type wakeQueue struct {
	head   atomic.Pointer[wakeNode]
	tail   atomic.Pointer[wakeNode]
	out    chan *wakeReq
	pump   sync.WaitGroup
	closed atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

func newWakeQueue() *wakeQueue {
	sentinel := &wakeNode{}
	q := &wakeQueue{out: make(chan *wakeReq)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	q.pump.Add(1)
	go q.consume()
	return q
}

// Push appends an event. Returns false if the queue is closed.
func (q *wakeQueue) Push(value *wakeReq) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &wakeNode{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS on tail may lose to a helping producer, which is fine.
				q.tail.CompareAndSwap(tailNode, newNode)
				q.cond.Signal()
				return true
			}
		} else {
			// help a producer that appended but hasn't advanced tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention: spin first, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves events from the linked list onto the output channel.
func (q *wakeQueue) consume() {
	defer q.pump.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the consumer end of the queue.
func (q *wakeQueue) Recv() <-chan *wakeReq {
	return q.out
}

// Close stops further writes. Events already queued are still delivered.
func (q *wakeQueue) Close() {
	q.closed.Store(true)
	q.cond.Signal()
}
