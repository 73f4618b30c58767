package raft

import (
	"testing"
)

func TestReplicaIDDerivation(t *testing.T) {
	// ids are derived independently on every node and must agree
	addr := "10.0.0.7:9222"
	first := replicaIDFor(addr)
	for i := 0; i < 10; i++ {
		if got := replicaIDFor(addr); got != first {
			t.Fatalf("replicaIDFor(%q) not deterministic: %d != %d", addr, got, first)
		}
	}
	if first == 0 {
		t.Errorf("replicaIDFor(%q) = 0, want non-zero", addr)
	}
	if other := replicaIDFor("10.0.0.8:9222"); other == first {
		t.Errorf("distinct addresses hashed to the same replica id %d", first)
	}
}

func TestShardIDDerivation(t *testing.T) {
	groupID := "deadbeef01234567"
	first := shardIDFor(groupID)
	if got := shardIDFor(groupID); got != first {
		t.Fatalf("shardIDFor(%q) not deterministic: %d != %d", groupID, got, first)
	}
	if first == 0 {
		t.Errorf("shardIDFor(%q) = 0, want non-zero", groupID)
	}
	if other := shardIDFor("0123456789abcdef"); other == first {
		t.Errorf("distinct group ids hashed to the same shard id %d", first)
	}
}
