package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("sched")

// --------------------------------------------------------------------------
// Collaborator interfaces
// --------------------------------------------------------------------------

// Executor runs one invocation against its owning session. Implementations
// must recover command-level errors into replies; an Execute call never
// aborts the worker.
type Executor interface {
	Execute(t *Task)
}

// Classifier resolves a command name to its latency tier. The boolean is
// false for unknown commands, which the scheduler routes to the slow tier
// so the handler can surface the unknown-command error as a reply.
type Classifier func(name string) (Tier, bool)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config sizes the worker pool and tunes batch loading.
type Config struct {
	FastWorkers    int
	SlowWorkers    int
	OnceTask       int           // max invocations one worker loads per batch
	BorrowInterval time.Duration // how long a slow worker waits before borrowing
	Borrowing      bool          // allow slow workers to borrow from the fast queue
}

// DefaultConfig returns the default pool sizing.
func DefaultConfig() Config {
	return Config{
		FastWorkers:    4,
		SlowWorkers:    2,
		OnceTask:       8,
		BorrowInterval: 200 * time.Millisecond,
		Borrowing:      true,
	}
}

func (c *Config) sanitize() {
	if c.FastWorkers <= 0 {
		c.FastWorkers = 1
	}
	if c.SlowWorkers <= 0 {
		c.SlowWorkers = 1
	}
	if c.OnceTask <= 0 {
		c.OnceTask = 1
	}
	if c.BorrowInterval <= 0 {
		c.BorrowInterval = 200 * time.Millisecond
	}
}

// --------------------------------------------------------------------------
// Session lanes
// --------------------------------------------------------------------------

// lane serializes one session's invocations. While busy (queued or running)
// or parked (blocked on a key), later submissions wait in pending and are
// released one at a time.
type lane struct {
	mu      sync.Mutex
	busy    bool
	parked  bool
	pending []*Task
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// Scheduler distributes invocations across the worker pool while keeping
// the per-session ordering invariant.
type Scheduler struct {
	cfg      Config
	classify Classifier
	exec     Executor

	fast *taskQueue
	slow *taskQueue

	lanes *xsync.MapOf[uint64, *lane]

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	submitted *metrics.Counter
	executed  *metrics.Counter
}

// NewScheduler creates a scheduler. Start must be called before Submit.
func NewScheduler(cfg Config, classify Classifier, exec Executor) *Scheduler {
	cfg.sanitize()
	s := &Scheduler{
		cfg:       cfg,
		classify:  classify,
		exec:      exec,
		fast:      newTaskQueue(),
		slow:      newTaskQueue(),
		lanes:     xsync.NewMapOf[uint64, *lane](),
		stopCh:    make(chan struct{}),
		submitted: metrics.GetOrCreateCounter(`sched_tasks_submitted_total`),
		executed:  metrics.GetOrCreateCounter(`sched_tasks_executed_total`),
	}
	metrics.GetOrCreateGauge(`sched_queue_depth{tier="fast"}`, func() float64 { return float64(s.fast.size()) })
	metrics.GetOrCreateGauge(`sched_queue_depth{tier="slow"}`, func() float64 { return float64(s.slow.size()) })
	return s
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < s.cfg.FastWorkers; i++ {
		w := &worker{
			sched:    s,
			name:     fmt.Sprintf("fast-worker-%d", i),
			onceTask: s.cfg.OnceTask,
			policy:   loadPolicy{source: s.fast},
		}
		s.wg.Add(1)
		go w.run()
	}
	for i := 0; i < s.cfg.SlowWorkers; i++ {
		p := loadPolicy{source: s.slow, wait: s.cfg.BorrowInterval}
		if s.cfg.Borrowing {
			p.borrow = s.fast
		}
		w := &worker{
			sched:    s,
			name:     fmt.Sprintf("slow-worker-%d", i),
			onceTask: s.cfg.OnceTask,
			policy:   p,
		}
		s.wg.Add(1)
		go w.run()
	}
	log.Infof("scheduler started: %d fast workers, %d slow workers, onceTask=%d, borrowing=%t",
		s.cfg.FastWorkers, s.cfg.SlowWorkers, s.cfg.OnceTask, s.cfg.Borrowing)
}

// Submit classifies a task and enqueues it, deferring it into the session
// lane when an earlier invocation of the same session is still pending.
// Safe to call concurrently from multiple transport threads.
func (s *Scheduler) Submit(t *Task) bool {
	if !s.running.Load() {
		return false
	}
	tier, known := s.classify(t.Argv[0])
	if !known {
		// handler resolves the unknown-command error; never drop
		tier = TierSlow
	}
	t.Tier = tier
	s.submitted.Inc()

	ln, _ := s.lanes.LoadOrCompute(t.SessionID, func() *lane { return &lane{} })
	ln.mu.Lock()
	if ln.busy || ln.parked {
		ln.pending = append(ln.pending, t)
		ln.mu.Unlock()
		return true
	}
	ln.busy = true
	ln.mu.Unlock()

	return s.enqueue(t)
}

// Unpark resumes a parked session with a wake event. The resume invocation
// re-enters the session lane at the head, ahead of anything submitted while
// the session was blocked. Returns false if the session has no lane.
func (s *Scheduler) Unpark(sessionID uint64, argv []string, wake *WakeEvent) bool {
	ln, ok := s.lanes.Load(sessionID)
	if !ok {
		return false
	}
	t := NewTask(sessionID, argv)
	t.Wake = wake
	tier, known := s.classify(argv[0])
	if !known {
		tier = TierSlow
	}
	t.Tier = tier

	ln.mu.Lock()
	ln.parked = false
	ln.pending = append([]*Task{t}, ln.pending...)
	var release *Task
	if !ln.busy {
		release = ln.pending[0]
		ln.pending = ln.pending[1:]
		ln.busy = true
	}
	ln.mu.Unlock()

	if release != nil {
		return s.enqueue(release)
	}
	return true
}

// Drop removes a session's lane after its connection closed. Deferred
// invocations are discarded; any of them already queued will find the
// session gone and complete as no-ops.
func (s *Scheduler) Drop(sessionID uint64) {
	s.lanes.Delete(sessionID)
}

// Stop cooperatively shuts down the pool: workers finish their currently
// loaded batch, then exit without loading further work.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.fast.close()
	s.slow.close()
	s.wg.Wait()
	log.Infof("scheduler stopped")
}

// QueueDepths returns the current fast and slow queue depths.
func (s *Scheduler) QueueDepths() (fast, slow int) {
	return s.fast.size(), s.slow.size()
}

func (s *Scheduler) enqueue(t *Task) bool {
	t.enqueueTs = time.Now()
	if t.Tier == TierFast {
		return s.fast.push(t)
	}
	return s.slow.push(t)
}

// finish releases the session lane after an invocation completed. If the
// handler parked the task the lane is held (not busy, not releasing) until
// Unpark; otherwise the next deferred invocation, if any, enters its tier
// queue.
func (s *Scheduler) finish(t *Task) {
	s.executed.Inc()
	ln, ok := s.lanes.Load(t.SessionID)
	if !ok {
		return
	}
	ln.mu.Lock()
	ln.busy = false
	if t.parked {
		ln.parked = true
		ln.mu.Unlock()
		return
	}
	var release *Task
	if len(ln.pending) > 0 {
		release = ln.pending[0]
		ln.pending = ln.pending[1:]
		ln.busy = true
	}
	ln.mu.Unlock()

	if release != nil {
		s.enqueue(release)
	}
}
