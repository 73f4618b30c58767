package raft

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/raftio"

	"github.com/IamJingZhang/pikiwidb/lib/store"
	"github.com/IamJingZhang/pikiwidb/lib/util"
)

const retries = 5

// Dragonboat uses RTT (Round Trip Time) to determine the timing of
// elections and heartbeats. Defaults per the RAFT paper.
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// Config holds the parameters of the dragonboat-backed engine. Group
// membership is not configured here: a founding member seeds itself, every
// other member is added through the join protocol.
type Config struct {
	// RaftAddr is the address peers use to reach this node's replication
	// transport (distinct from the client-serving address).
	RaftAddr string
	// DataDir is the root under which per-group log, metadata and snapshot
	// directories are created.
	DataDir string

	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64

	// Timeout bounds each synchronous proposal or membership change.
	Timeout time.Duration
}

func (c *Config) sanitize() {
	if c.RTTMillisecond == 0 {
		c.RTTMillisecond = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
}

// idSeed is the fixed hash seed for replica and shard id derivation. It
// must be identical on every node: ids are computed independently from the
// raft address and group id, never exchanged.
const idSeed = 0

// replicaIDFor derives a node's replica id from its raft address, so every
// member of the group computes the same id for the same node without
// coordination.
func replicaIDFor(addr string) uint64 {
	id := util.HashString(addr, idSeed)
	if id == 0 {
		id = 1
	}
	return id
}

// shardIDFor derives the dragonboat shard id from the group id.
func shardIDFor(groupID string) uint64 {
	id := util.HashString(groupID, idSeed)
	if id == 0 {
		id = 1
	}
	return id
}

type dragonboatEngine struct {
	cfg    Config
	engine store.Engine
	hooks  Hooks

	mu      sync.Mutex
	nh      *dragonboat.NodeHost
	cs      *client.Session
	groupID string
	shardID uint64
	nodeID  uint64
	inited  atomic.Bool

	leaderID atomic.Uint64
}

// NewEngine creates a dragonboat-backed consensus engine bound to the given
// key-value engine. The engine is inert until Init.
func NewEngine(cfg Config, engine store.Engine, hooks Hooks) Engine {
	cfg.sanitize()
	return &dragonboatEngine{
		cfg:    cfg,
		engine: engine,
		hooks:  hooks,
		nodeID: replicaIDFor(cfg.RaftAddr),
	}
}

func (e *dragonboatEngine) Init(groupID string, founding bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inited.Load() {
		if e.groupID == groupID {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("raft: already initialized with group %s, refusing %s", e.groupID, groupID)
	}
	if len(groupID) != util.GroupIDLen {
		return fmt.Errorf("raft: invalid group id %q", groupID)
	}

	// log, metadata and snapshots all live under <data-dir>/<group-id>
	dir := filepath.Join(e.cfg.DataDir, groupID)
	nh, err := dragonboat.NewNodeHost(config.NodeHostConfig{
		WALDir:            dir,
		NodeHostDir:       dir,
		RTTMillisecond:    e.cfg.RTTMillisecond,
		RaftAddress:       e.cfg.RaftAddr,
		RaftEventListener: e,
	})
	if err != nil {
		return fmt.Errorf("raft: failed to create node host: %w", err)
	}

	shardID := shardIDFor(groupID)
	initialMembers := map[uint64]dragonboat.Target{}
	if founding {
		initialMembers[e.nodeID] = e.cfg.RaftAddr
	}
	err = nh.StartConcurrentReplica(
		initialMembers,
		!founding,
		createStateMachineFactory(e.engine, e.hooks),
		config.Config{
			ReplicaID:          e.nodeID,
			ShardID:            shardID,
			ElectionRTT:        electionRTTFactor,
			HeartbeatRTT:       heartbeatRTTFactor,
			CheckQuorum:        true,
			SnapshotEntries:    e.cfg.SnapshotEntries,
			CompactionOverhead: e.cfg.CompactionOverhead,
		},
	)
	if err != nil {
		nh.Close()
		return fmt.Errorf("raft: failed to start replica: %w", err)
	}

	e.nh = nh
	e.cs = nh.GetNoOPSession(shardID)
	e.groupID = groupID
	e.shardID = shardID
	e.inited.Store(true)
	log.Infof("replication group %s started (shard %d, replica %d, founding=%t)", groupID, shardID, e.nodeID, founding)
	return nil
}

func (e *dragonboatEngine) Initialized() bool {
	return e.inited.Load()
}

func (e *dragonboatEngine) Propose(cmd Command) (Result, error) {
	if !e.inited.Load() {
		return Result{}, ErrNotInitialized
	}
	data := cmd.Serialize()
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
		res, err := e.nh.SyncPropose(ctx, e.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(e.cfg.Timeout / 10)
			continue
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Code: res.Value, Data: res.Data}, nil
	}
	return Result{}, fmt.Errorf("raft: proposal timed out after %d retries", retries)
}

func (e *dragonboatEngine) Apply(cmd Command) {
	go func() {
		res, err := e.Propose(cmd)
		if err == nil && res.Code != uint64(store.RetCSuccess) {
			err = store.NewError(store.RetCode(res.Code), string(res.Data))
		}
		if err != nil && e.hooks.OnError != nil {
			e.hooks.OnError(fmt.Errorf("async apply of %s %q failed: %w", cmd.Op, cmd.Key, err))
		}
	}()
}

func (e *dragonboatEngine) AddPeer(addr string) error {
	if err := e.memberChange(addr, true); err != nil {
		return err
	}
	if e.hooks.OnConfigurationCommitted != nil {
		e.hooks.OnConfigurationCommitted(addr, true)
	}
	return nil
}

func (e *dragonboatEngine) RemovePeer(addr string) error {
	if err := e.memberChange(addr, false); err != nil {
		return err
	}
	if e.hooks.OnConfigurationCommitted != nil {
		e.hooks.OnConfigurationCommitted(addr, false)
	}
	return nil
}

func (e *dragonboatEngine) memberChange(addr string, add bool) error {
	if !e.inited.Load() {
		return ErrNotInitialized
	}
	replicaID := replicaIDFor(addr)
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
		var err error
		if add {
			err = e.nh.SyncRequestAddReplica(ctx, e.shardID, replicaID, addr, 0)
		} else {
			err = e.nh.SyncRequestDeleteReplica(ctx, e.shardID, replicaID, 0)
		}
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("membership change: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(e.cfg.Timeout / 10)
			continue
		}
		if err != nil {
			return fmt.Errorf("raft: membership change for %s failed: %w", addr, err)
		}
		log.Infof("membership change committed: %s (add=%t, replica %d)", addr, add, replicaID)
		return nil
	}
	return fmt.Errorf("raft: membership change for %s timed out", addr)
}

func (e *dragonboatEngine) IsLeader() bool {
	if !e.inited.Load() {
		return false
	}
	leaderID, _, valid, err := e.nh.GetLeaderID(e.shardID)
	if err != nil || !valid {
		return false
	}
	return leaderID == e.nodeID
}

func (e *dragonboatEngine) LeaderAddr() (string, bool) {
	if !e.inited.Load() {
		return "", false
	}
	leaderID, _, valid, err := e.nh.GetLeaderID(e.shardID)
	if err != nil || !valid || leaderID == 0 {
		return "", false
	}
	if leaderID == e.nodeID {
		return e.cfg.RaftAddr, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()
	membership, err := e.nh.SyncGetShardMembership(ctx, e.shardID)
	if err != nil {
		return "", false
	}
	addr, ok := membership.Nodes[leaderID]
	return addr, ok
}

func (e *dragonboatEngine) Identity() GroupIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return GroupIdentity{
		GroupID:  e.groupID,
		NodeID:   e.nodeID,
		RaftAddr: e.cfg.RaftAddr,
	}
}

func (e *dragonboatEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inited.Load() {
		return nil
	}
	e.inited.Store(false)
	e.nh.Close()
	e.nh = nil
	return nil
}

// LeaderUpdated implements raftio.IRaftEventListener: it drives the
// leadership hooks when this node gains or loses the lead.
func (e *dragonboatEngine) LeaderUpdated(info raftio.LeaderInfo) {
	if info.ShardID != e.shardID {
		return
	}
	prev := e.leaderID.Swap(info.LeaderID)
	if prev == info.LeaderID {
		return
	}
	if info.LeaderID == e.nodeID {
		log.Infof("leadership acquired (term %d)", info.Term)
		if e.hooks.OnLeaderStart != nil {
			e.hooks.OnLeaderStart()
		}
	} else if prev == e.nodeID {
		log.Infof("leadership lost to replica %d (term %d)", info.LeaderID, info.Term)
		if e.hooks.OnLeaderStop != nil {
			e.hooks.OnLeaderStop()
		}
	}
}
