// Package sched turns queued client invocations into executed responses.
//
// Scheduling model: a fixed pool of worker goroutines (N fast, M slow)
// drains two shared tier queues. Each worker loads up to onceTask
// invocations into a private batch and executes them sequentially. Fast
// workers load only from the fast queue. Slow workers load from the slow
// queue; when it stays empty for a bounded interval and borrowing is
// enabled, they opportunistically borrow from the fast queue so idle slow
// capacity absorbs fast backlog without preempting fast workers.
//
// Per-session ordering: two invocations from the same session never execute
// concurrently nor out of submission order, even across different workers.
// The pool itself provides no such guarantee, so the scheduler tracks a lane
// per session: while one invocation is queued or running, later submissions
// for the same session wait in the lane and are released one at a time as
// their predecessors complete.
//
// Blocking commands park their lane instead of blocking a worker thread:
// the worker returns to the pool and the session is resumed later through
// Unpark, either by the key-write Notifier or by a timeout. Parked lanes
// accept submissions but do not release them until the wait resolves.
//
// Stop is cooperative: workers finish their loaded batch and exit without
// loading further work. Nothing cancels a command already executing.
package sched
