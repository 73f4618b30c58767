// Package raft binds the command pipeline to a consensus backend.
//
// The package has three parts:
//
//   - Engine, the narrow interface the rest of the system programs against.
//     Writes are proposed through it, membership changes go through
//     AddPeer/RemovePeer, and a Hooks set delivers consensus events
//     (committed entries, snapshots, leadership changes) back into the core.
//     Any backend satisfying the interface is interchangeable.
//
//   - The dragonboat-backed implementation. It runs one replication group
//     per process, identified by a fixed-length hex group id. The dragonboat
//     shard id is derived from the group id by hashing, and a node's replica
//     id is derived from its raft address the same way, so every member
//     computes identical ids without coordination. Log, metadata and
//     snapshot files live under <data-dir>/<group-id>.
//
//   - The join Coordinator, a short-lived client-side protocol that adds
//     this node to an existing group: it asks a seed peer for the group id,
//     initializes the local engine as a non-founding member, and requests
//     membership from the leader, following at most one wrong-leader
//     redirect before giving up.
package raft
