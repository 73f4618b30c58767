// Package server assembles the full node: the in-memory store, the command
// dispatcher, the dual-tier scheduler with its blocking-wait notifier, the
// consensus engine and the cluster join coordinator, all behind a single
// TCP front end speaking the wire protocol.
//
// The front end is deliberately thin: one goroutine per connection reads
// commands off the socket and submits them to the scheduler; all execution,
// ordering and reply delivery happens in the worker pool. Connection
// teardown drops the session from the registry, the scheduler and the
// notifier, after which any task still queued for it completes as a no-op.
package server
