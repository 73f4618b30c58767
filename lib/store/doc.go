// Package store defines the key-value engine boundary the command pipeline
// executes against, together with a sharded in-memory implementation.
//
// The Engine interface is deliberately narrow: typed get/set/delete plus the
// minimal list operations needed by blocking reads, all scoped to a numbered
// database. The replicated state machine and the standalone execution path
// share this interface, so any engine satisfying it is interchangeable — a
// disk-backed engine plugs in without touching the pipeline.
//
// Writes publish key-write events through an optional hook. The hook is the
// cooperative signal feeding WATCH dirty tracking and blocking-command
// wakeup; the engine itself never calls back into sessions.
package store
