// Package session holds per-connection client state and the registry that
// owns it.
//
// A Session carries everything a connection accumulates over its life:
// selected database, transaction state (multi flag, queued commands, watched
// keys, dirty/wrong-exec markers), pub/sub channel and pattern sets,
// blocking-wait state, authentication, the pending reply buffer, and
// per-command statistics.
//
// Ownership model: the Registry is the single owner of sessions, keyed by a
// stable uint64 id. Tasks and the transport layer hold ids, never pointers,
// so a session closed while work for it is still queued is simply not found
// and the work degrades to a no-op.
//
// Concurrency model: a session's plain fields are mutated only by the worker
// thread currently executing its in-flight invocation, under the scheduler's
// per-session ordering guarantee. The exceptions are state that another
// thread can touch: the lifecycle state and flag word use atomics
// (NotifyDirty is raised by whichever worker mutates a watched key), the
// statistics counters are read concurrently by INFO, and the watch,
// subscription and blocking-wait sets are guarded by a mutex because the
// transport goroutine tears them down in Registry.Close while a worker may
// still be running the session's last invocation.
package session
