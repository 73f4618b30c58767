package sched

import "time"

// loadPolicy describes where a worker loads invocations from. A fast worker
// has only a source queue. A slow worker additionally carries the fast
// queue as a borrow source and a fixed wait interval before borrowing.
type loadPolicy struct {
	source *taskQueue
	borrow *taskQueue
	wait   time.Duration
}

// worker runs a load/execute loop against its policy's queues.
type worker struct {
	sched    *Scheduler
	policy   loadPolicy
	name     string
	onceTask int
}

func (w *worker) run() {
	defer w.sched.wg.Done()
	for w.sched.running.Load() {
		batch := w.load()
		for _, t := range batch {
			t.dequeueTs = time.Now()
			w.sched.exec.Execute(t)
			t.doneTs = time.Now()
			w.sched.finish(t)
		}
	}
	log.Debugf("%s exiting", w.name)
}

// load fills a private batch of up to onceTask invocations. Without a
// borrow source it parks on its queue until work or shutdown arrives. With
// one, it waits the fixed interval on its own queue first and only then
// borrows, so borrowing stays opportunistic.
func (w *worker) load() []*Task {
	if batch := w.policy.source.tryLoad(w.onceTask); len(batch) > 0 {
		return batch
	}
	if w.policy.borrow == nil {
		w.policy.source.wait(0, w.sched.stopCh)
		return w.policy.source.tryLoad(w.onceTask)
	}
	w.policy.source.wait(w.policy.wait, w.sched.stopCh)
	if batch := w.policy.source.tryLoad(w.onceTask); len(batch) > 0 {
		return batch
	}
	return w.policy.borrow.tryLoad(w.onceTask)
}
