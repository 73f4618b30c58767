package sched

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// ClaimFunc attempts to consume the value a blocked command is waiting for.
// It returns the value and true on success, or false when the value is not
// (or no longer) available. It is only ever called from the notifier's pump
// goroutine, one call at a time.
type ClaimFunc func() ([]byte, bool)

// waiter is one blocked session queued on a key.
type waiter struct {
	seq       uint64
	sessionID uint64
	db        int
	key       string
	argv      []string
	claim     ClaimFunc
	timer     *time.Timer
}

// Notifier resolves blocking commands without tying up a worker goroutine.
// A command that finds nothing to consume parks its session's lane and
// registers a waiter here; writes to the awaited key, timeouts and session
// teardown all arrive as events on a single MPSC queue, so every wake
// decision is made by one goroutine and no two events race on a waiter.
//
// Waiters on the same key form a FIFO: the longest-blocked session is
// offered a written value first.
type Notifier struct {
	sched   *Scheduler
	queue   *wakeQueue
	done    chan struct{}
	seq     atomic.Uint64
	blocked atomic.Int64

	// pump-owned, never touched by other goroutines
	byKey     map[string][]*waiter
	bySession map[uint64][]*waiter
}

// NewNotifier creates a notifier delivering wakeups through sched.Unpark.
func NewNotifier(sched *Scheduler) *Notifier {
	n := &Notifier{
		sched:     sched,
		queue:     newWakeQueue(),
		done:      make(chan struct{}),
		byKey:     make(map[string][]*waiter),
		bySession: make(map[uint64][]*waiter),
	}
	metrics.GetOrCreateGauge("sched_blocked_sessions", func() float64 {
		return float64(n.blocked.Load())
	})
	return n
}

// Start launches the pump goroutine.
func (n *Notifier) Start() {
	go n.pump()
}

// Stop closes the event queue and waits for the pump to drain. Waiters
// still registered are abandoned; their sessions are assumed to be torn
// down by the caller.
func (n *Notifier) Stop() {
	n.queue.Close()
	<-n.done
}

// Block registers a blocked session. The session's lane must already be
// parked (Task.Park). argv is replayed through Unpark once the wait
// resolves; claim is invoked from the pump to consume the awaited value.
// A timeout of 0 blocks indefinitely.
//
// Thread-safety: safe to call from any worker goroutine.
func (n *Notifier) Block(db int, key string, sessionID uint64, argv []string, claim ClaimFunc, timeout time.Duration) bool {
	w := &waiter{
		seq:       n.seq.Add(1),
		sessionID: sessionID,
		db:        db,
		key:       key,
		argv:      argv,
		claim:     claim,
	}
	if timeout > 0 {
		seq := w.seq
		w.timer = time.AfterFunc(timeout, func() {
			n.queue.Push(&wakeReq{kind: wakeTimeout, session: sessionID, seq: seq})
		})
	}
	if !n.queue.Push(&wakeReq{kind: wakeBlock, waiter: w}) {
		if w.timer != nil {
			w.timer.Stop()
		}
		return false
	}
	return true
}

// NotifyWrite reports that a key was written. Called from the store's
// write hook on whichever goroutine applied the mutation.
func (n *Notifier) NotifyWrite(db int, key string) {
	n.queue.Push(&wakeReq{kind: wakeWrite, db: db, key: key})
}

// Drop discards all waiters of a closed session without waking it.
func (n *Notifier) Drop(sessionID uint64) {
	n.queue.Push(&wakeReq{kind: wakeDrop, session: sessionID})
}

// ----------------------------------------------------------------------------
// pump (single consumer)
// ----------------------------------------------------------------------------

func (n *Notifier) pump() {
	defer close(n.done)
	for req := range n.queue.Recv() {
		switch req.kind {
		case wakeBlock:
			n.register(req.waiter)
		case wakeWrite:
			n.onWrite(req.db, req.key)
		case wakeTimeout:
			n.onTimeout(req.session, req.seq)
		case wakeDrop:
			n.onDrop(req.session)
		}
	}
}

func blockKeyOf(db int, key string) string {
	return fmt.Sprintf("%d/%s", db, key)
}

func (n *Notifier) register(w *waiter) {
	// the value may have arrived between the command's miss and this event
	if value, ok := w.claim(); ok {
		if w.timer != nil {
			w.timer.Stop()
		}
		n.sched.Unpark(w.sessionID, w.argv, &WakeEvent{Key: w.key, Value: value})
		return
	}
	bk := blockKeyOf(w.db, w.key)
	n.byKey[bk] = append(n.byKey[bk], w)
	n.bySession[w.sessionID] = append(n.bySession[w.sessionID], w)
	n.blocked.Add(1)
}

func (n *Notifier) onWrite(db int, key string) {
	bk := blockKeyOf(db, key)
	queue := n.byKey[bk]
	for len(queue) > 0 {
		w := queue[0]
		value, ok := w.claim()
		if !ok {
			break
		}
		queue = queue[1:]
		n.detach(w)
		n.sched.Unpark(w.sessionID, w.argv, &WakeEvent{Key: w.key, Value: value})
	}
	if len(queue) == 0 {
		delete(n.byKey, bk)
	} else {
		n.byKey[bk] = queue
	}
}

func (n *Notifier) onTimeout(sessionID, seq uint64) {
	for _, w := range n.bySession[sessionID] {
		if w.seq != seq {
			continue
		}
		n.removeFromKey(w)
		n.detach(w)
		n.sched.Unpark(w.sessionID, w.argv, &WakeEvent{Key: w.key, TimedOut: true})
		return
	}
	// already satisfied or dropped, stale timer
}

func (n *Notifier) onDrop(sessionID uint64) {
	for _, w := range n.bySession[sessionID] {
		n.removeFromKey(w)
		if w.timer != nil {
			w.timer.Stop()
		}
		n.blocked.Add(-1)
	}
	delete(n.bySession, sessionID)
}

// detach removes a waiter from its session index and stops its timer. The
// key index is handled by the caller.
func (n *Notifier) detach(w *waiter) {
	if w.timer != nil {
		w.timer.Stop()
	}
	list := n.bySession[w.sessionID]
	for i, cand := range list {
		if cand == w {
			n.bySession[w.sessionID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(n.bySession[w.sessionID]) == 0 {
		delete(n.bySession, w.sessionID)
	}
	n.blocked.Add(-1)
}

func (n *Notifier) removeFromKey(w *waiter) {
	bk := blockKeyOf(w.db, w.key)
	list := n.byKey[bk]
	for i, cand := range list {
		if cand == w {
			n.byKey[bk] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(n.byKey[bk]) == 0 {
		delete(n.byKey, bk)
	}
}
