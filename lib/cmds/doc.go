// Package cmds implements the command table and the dispatcher that
// executes scheduled invocations against their sessions.
//
// Every command is described by a table entry: its handler, arity
// (redis-style, negative for "at least"), latency tier and write flag. The
// dispatcher is the scheduler's executor: it resolves the owning session,
// handles transaction queueing, authentication and arity checks, runs the
// handler, records statistics and ships the reply. Handler errors become
// error replies; a worker never faults on a command.
//
// Write commands go through the consensus engine when the node is part of
// a replication group, and apply directly to the local store otherwise.
// Both paths share the same apply function, so semantics are identical.
package cmds
