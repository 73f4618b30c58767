package sched

import "time"

// --------------------------------------------------------------------------
// Latency tiers
// --------------------------------------------------------------------------

// Tier is the latency classification of a command, determining which queue
// serves it.
type Tier uint8

const (
	TierFast Tier = iota
	TierSlow
)

func (t Tier) String() string {
	if t == TierFast {
		return "fast"
	}
	return "slow"
}

// --------------------------------------------------------------------------
// Invocations
// --------------------------------------------------------------------------

// WakeEvent carries the resolution of a parked invocation back into the
// pipeline: a delivered value, a timeout, or an asynchronous error.
type WakeEvent struct {
	Key      string
	Value    []byte
	TimedOut bool
	Err      error
}

// Task is one parsed client command bound to its owning session. A task is
// created when parsing completes, consumed exactly once by a worker, and
// not reused.
type Task struct {
	// SessionID is a non-owning reference; the session registry resolves it
	// at execution time and a missing session makes execution a no-op.
	SessionID uint64
	// Argv is the raw argument vector; Argv[0] is the command name.
	Argv []string
	// Tier is assigned by classification at submission.
	Tier Tier
	// Wake is non-nil when this task resumes a previously parked invocation.
	Wake *WakeEvent

	parked    bool
	enqueueTs time.Time
	dequeueTs time.Time
	doneTs    time.Time
}

// NewTask creates a pending invocation for the given session.
func NewTask(sessionID uint64, argv []string) *Task {
	return &Task{SessionID: sessionID, Argv: argv}
}

// Park marks the executing invocation as blocked: its session lane is held
// after the handler returns and no reply is sent until Unpark resumes it.
// Only the handler currently executing the task may call this.
func (t *Task) Park() { t.parked = true }

// Parked reports whether the handler parked this invocation.
func (t *Task) Parked() bool { return t.parked }

// EnqueueTs returns when the task entered its tier queue.
func (t *Task) EnqueueTs() time.Time { return t.enqueueTs }

// DequeueTs returns when a worker loaded the task.
func (t *Task) DequeueTs() time.Time { return t.dequeueTs }

// DoneTs returns when execution completed.
func (t *Task) DoneTs() time.Time { return t.doneTs }
