package raft

import (
	"bytes"
	"testing"

	"github.com/IamJingZhang/pikiwidb/lib/store"
)

func TestCommandSerializeRoundTrip(t *testing.T) {
	cases := []Command{
		{Op: OpSet, DB: 0, Key: "k", Args: [][]byte{[]byte("v")}},
		{Op: OpDelete, DB: 3, Key: "a", Args: [][]byte{[]byte("b"), []byte("c")}},
		{Op: OpIncrBy, DB: 1, Key: "ctr", Args: [][]byte{[]byte("-42")}},
		{Op: OpLPush, DB: 0, Key: "list", Args: [][]byte{{0x00, 0xff, 0x0d, 0x0a}}},
		{Op: OpFlushDB, DB: 7, Key: "", Args: nil},
	}
	for _, want := range cases {
		data := want.Serialize()
		if len(data) != want.SizeBytes() {
			t.Errorf("%s: serialized %d bytes, SizeBytes says %d", want.Op, len(data), want.SizeBytes())
		}
		var got Command
		if err := got.Deserialize(data); err != nil {
			t.Fatalf("%s: deserialize failed: %v", want.Op, err)
		}
		if got.Op != want.Op || got.DB != want.DB || got.Key != want.Key {
			t.Errorf("%s: round trip changed header: %+v", want.Op, got)
		}
		if len(got.Args) != len(want.Args) {
			t.Fatalf("%s: round trip changed arg count: %d != %d", want.Op, len(got.Args), len(want.Args))
		}
		for i := range want.Args {
			if !bytes.Equal(got.Args[i], want.Args[i]) {
				t.Errorf("%s: arg %d changed: %q != %q", want.Op, i, got.Args[i], want.Args[i])
			}
		}
	}
}

func TestCommandDeserializeRejectsGarbage(t *testing.T) {
	full := (&Command{Op: OpSet, Key: "key", Args: [][]byte{[]byte("value")}}).Serialize()
	for n := 0; n < len(full); n++ {
		var cmd Command
		if err := cmd.Deserialize(full[:n]); err == nil {
			t.Fatalf("truncation to %d bytes accepted", n)
		}
	}
}

func TestApplyToStore(t *testing.T) {
	eng := store.NewMemoryEngine(nil)

	res := ApplyToStore(eng, Command{Op: OpSet, DB: 0, Key: "k", Args: [][]byte{[]byte("v")}})
	if res.Code != uint64(store.RetCSuccess) {
		t.Fatalf("set failed: %+v", res)
	}
	if v, found, _ := eng.Get(0, "k"); !found || string(v) != "v" {
		t.Fatalf("set did not stick: %q %t", v, found)
	}

	res = ApplyToStore(eng, Command{Op: OpIncrBy, DB: 0, Key: "ctr", Args: [][]byte{[]byte("5")}})
	if res.Code != uint64(store.RetCSuccess) || string(res.Data) != "5" {
		t.Fatalf("incrby: %+v", res)
	}
	res = ApplyToStore(eng, Command{Op: OpIncrBy, DB: 0, Key: "k", Args: [][]byte{[]byte("1")}})
	if res.Code != uint64(store.RetCInvalidInt) {
		t.Fatalf("incrby on non-integer returned code %d", res.Code)
	}

	res = ApplyToStore(eng, Command{Op: OpRPush, DB: 0, Key: "l", Args: [][]byte{[]byte("a"), []byte("b")}})
	if res.Code != uint64(store.RetCSuccess) || string(res.Data) != "2" {
		t.Fatalf("rpush: %+v", res)
	}
	res = ApplyToStore(eng, Command{Op: OpLPop, DB: 0, Key: "l"})
	if value, found := DecodePopResult(res.Data); !found || string(value) != "a" {
		t.Fatalf("lpop: %+v", res)
	}
	res = ApplyToStore(eng, Command{Op: OpLPop, DB: 0, Key: "missing"})
	if _, found := DecodePopResult(res.Data); found {
		t.Fatalf("lpop on missing key produced a value: %+v", res)
	}

	res = ApplyToStore(eng, Command{Op: OpDelete, DB: 0, Key: "k", Args: [][]byte{[]byte("nope")}})
	if res.Code != uint64(store.RetCSuccess) || string(res.Data) != "1" {
		t.Fatalf("delete: %+v", res)
	}

	res = ApplyToStore(eng, Command{Op: Op(99), DB: 0, Key: "x"})
	if res.Code != uint64(store.RetCInvalidOp) {
		t.Fatalf("unknown op returned code %d", res.Code)
	}
}

func TestCommandWrites(t *testing.T) {
	cmd := Command{Op: OpDelete, DB: 2, Key: "a", Args: [][]byte{[]byte("b")}}
	writes := cmd.Writes()
	if len(writes) != 2 || writes[0].Key != "a" || writes[1].Key != "b" || writes[0].DB != 2 {
		t.Fatalf("delete writes: %+v", writes)
	}
	cmd = Command{Op: OpSet, DB: 0, Key: "k", Args: [][]byte{[]byte("v")}}
	if writes := cmd.Writes(); len(writes) != 1 || writes[0].Key != "k" {
		t.Fatalf("set writes: %+v", writes)
	}
}
