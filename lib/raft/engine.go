package raft

import (
	"errors"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("raft")

var (
	// ErrNotInitialized is returned by operations requiring a running
	// replication group before Init succeeded.
	ErrNotInitialized = errors.New("raft: engine not initialized")
	// ErrAlreadyInitialized is returned by Init when the engine is already
	// bound to a group.
	ErrAlreadyInitialized = errors.New("raft: engine already initialized")
)

// GroupIdentity describes the replication group a node belongs to. It is
// set once at initialization; membership afterwards changes only through
// AddPeer/RemovePeer.
type GroupIdentity struct {
	GroupID  string
	NodeID   uint64
	RaftAddr string
}

// Result is the outcome of an applied write command: the engine return
// code plus command-specific payload (e.g. the new counter value).
type Result struct {
	Code uint64
	Data []byte
}

// Hooks is the callback set a consensus backend invokes into the core.
// All fields are optional; nil hooks are skipped.
type Hooks struct {
	// OnCommitted is called after a batch of committed commands has been
	// applied to storage, with the databases and keys that changed.
	OnCommitted func(writes []CommittedWrite)
	// OnSnapshotSave / OnSnapshotLoad bracket snapshot externalization and
	// restore.
	OnSnapshotSave func()
	OnSnapshotLoad func()
	// OnLeaderStart / OnLeaderStop report leadership transitions of the
	// local node.
	OnLeaderStart func()
	OnLeaderStop  func()
	// OnConfigurationCommitted reports a committed membership change.
	OnConfigurationCommitted func(addr string, added bool)
	// OnError reports asynchronous failures (e.g. a fire-and-forget Apply
	// that never committed).
	OnError func(err error)
}

// CommittedWrite identifies one key mutated by a committed command.
type CommittedWrite struct {
	DB  int
	Key string
}

// Engine is the consensus backend boundary. The core treats the backend as
// polymorphic over this capability set.
//
// Propose and the membership operations are synchronous: they return once
// the operation committed or failed. Apply is asynchronous; submission does
// not imply commit, and failures surface through Hooks.OnError.
type Engine interface {
	// Init binds the engine to a replication group. A founding member seeds
	// the group's initial membership with itself; a non-founding member
	// starts empty and must be added by the leader (see Coordinator).
	// Initializing twice, or with a different group id, fails.
	Init(groupID string, founding bool) error
	// Initialized reports whether Init has succeeded.
	Initialized() bool

	// Propose replicates a write command and returns its applied result.
	Propose(cmd Command) (Result, error)
	// Apply submits a write command without waiting for commit.
	Apply(cmd Command)

	// AddPeer adds a node to the group, blocking until the membership
	// change commits. Only valid on the leader.
	AddPeer(addr string) error
	// RemovePeer removes a node from the group, blocking until the
	// membership change commits.
	RemovePeer(addr string) error

	// IsLeader reports whether the local node currently leads the group.
	IsLeader() bool
	// LeaderAddr returns the current leader's raft address. The boolean is
	// false while leadership is unknown.
	LeaderAddr() (string, bool)
	// Identity returns the node's group identity. Zero value before Init.
	Identity() GroupIdentity

	// Shutdown stops the replication group and releases backend resources.
	Shutdown() error
}
