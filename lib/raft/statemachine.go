package raft

import (
	"fmt"
	"io"
	"time"

	sm "github.com/lni/dragonboat/v4/statemachine"

	"github.com/IamJingZhang/pikiwidb/lib/store"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// storeStateMachine applies committed write commands to the key-value
// engine. Reads never go through it; the server reads the engine directly.
type storeStateMachine struct {
	replicaID uint64
	shardID   uint64
	engine    store.Engine
	hooks     Hooks
}

// createStateMachineFactory returns the factory dragonboat uses to create
// the replica's state machine. The engine is shared with the serving path,
// which is why the concurrent state machine variant is used.
func createStateMachineFactory(engine store.Engine, hooks Hooks) func(shardID, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID, replicaID uint64) sm.IConcurrentStateMachine {
		return &storeStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			engine:    engine,
			hooks:     hooks,
		}
	}
}

// Lookup is unused; reads are served from the engine directly.
func (fsm *storeStateMachine) Lookup(itf interface{}) (interface{}, error) {
	return nil, fmt.Errorf("lookup not supported, read the engine directly")
}

// Update applies a batch of committed entries to the engine.
func (fsm *storeStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()
	var writes []CommittedWrite

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOp), Data: []byte("empty command ignored")}
			continue
		}

		cmd := Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		res := ApplyToStore(fsm.engine, cmd)
		entries[idx].Result = sm.Result{Value: res.Code, Data: res.Data}
		if res.Code == uint64(store.RetCSuccess) {
			writes = append(writes, cmd.Writes()...)
		}
	}

	if fsm.hooks.OnCommitted != nil && len(writes) > 0 {
		fsm.hooks.OnCommitted(writes)
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine batch took long: %d entries in %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used; the engine supports fuzzy snapshotting.
func (fsm *storeStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a fuzzy engine snapshot to the writer.
func (fsm *storeStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if err := fsm.engine.Save(writer); err != nil {
		return err
	}
	if fsm.hooks.OnSnapshotSave != nil {
		fsm.hooks.OnSnapshotSave()
	}
	return nil
}

// RecoverFromSnapshot replaces the engine state from a snapshot.
func (fsm *storeStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if err := fsm.engine.Load(r); err != nil {
		return err
	}
	if fsm.hooks.OnSnapshotLoad != nil {
		fsm.hooks.OnSnapshotLoad()
	}
	return nil
}

// Close performs any necessary cleanup.
func (fsm *storeStateMachine) Close() error {
	return nil
}
