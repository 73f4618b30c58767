package raft

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/IamJingZhang/pikiwidb/lib/store"
)

// Op enumerates the write operations carried through the replicated log.
type Op uint8

const (
	OpSet Op = iota
	OpDelete
	OpIncrBy
	OpLPush
	OpRPush
	OpLPop
	OpRPop
	OpFlushDB
)

func (op Op) String() string {
	switch op {
	case OpSet:
		return "Set"
	case OpDelete:
		return "Delete"
	case OpIncrBy:
		return "IncrBy"
	case OpLPush:
		return "LPush"
	case OpRPush:
		return "RPush"
	case OpLPop:
		return "LPop"
	case OpRPop:
		return "RPop"
	case OpFlushDB:
		return "FlushDB"
	default:
		return fmt.Sprintf("Unknown(%d)", op)
	}
}

// Command is one write operation, a single entry in the replicated log.
// Key is the primary key; Args carry operation-specific payload (the value
// for Set, further keys for Delete, pushed values for LPush/RPush, the
// decimal delta for IncrBy).
type Command struct {
	Op   Op
	DB   uint32
	Key  string
	Args [][]byte
}

// SizeBytes returns the exact number of bytes Serialize will produce.
func (cmd *Command) SizeBytes() int {
	size := 1 + 4 + 4 + len(cmd.Key) + 4 // Op + DB + KeyLen + Key + ArgCount
	for _, a := range cmd.Args {
		size += 4 + len(a)
	}
	return size
}

// Serialize encodes the command into a byte array with the format:
// 1 byte for operation type,
// 4 bytes for database index (big endian),
// 4 bytes for key length (big endian) followed by the key data,
// 4 bytes for argument count (big endian),
// then per argument 4 bytes length (big endian) followed by the data.
func (cmd *Command) Serialize() []byte {
	result := make([]byte, cmd.SizeBytes())

	result[0] = byte(cmd.Op)
	binary.BigEndian.PutUint32(result[1:5], cmd.DB)
	binary.BigEndian.PutUint32(result[5:9], uint32(len(cmd.Key)))
	off := 9 + copy(result[9:], cmd.Key)

	binary.BigEndian.PutUint32(result[off:off+4], uint32(len(cmd.Args)))
	off += 4
	for _, a := range cmd.Args {
		binary.BigEndian.PutUint32(result[off:off+4], uint32(len(a)))
		off += 4
		off += copy(result[off:], a)
	}
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (cmd *Command) Deserialize(data []byte) error {
	if len(data) < 13 {
		return fmt.Errorf("data too short for command (%d bytes)", len(data))
	}
	cmd.Op = Op(data[0])
	cmd.DB = binary.BigEndian.Uint32(data[1:5])

	keyLen := int(binary.BigEndian.Uint32(data[5:9]))
	off := 9
	if len(data) < off+keyLen+4 {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	cmd.Key = string(data[off : off+keyLen])
	off += keyLen

	argCount := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	cmd.Args = nil
	for i := 0; i < argCount; i++ {
		if len(data) < off+4 {
			return fmt.Errorf("data too short for argument %d header", i)
		}
		argLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if len(data) < off+argLen {
			return fmt.Errorf("data too short for argument %d of length %d", i, argLen)
		}
		cmd.Args = append(cmd.Args, append([]byte(nil), data[off:off+argLen]...))
		off += argLen
	}
	return nil
}

// --------------------------------------------------------------------------
// Shared apply path
// --------------------------------------------------------------------------

// popResult encodes a list-pop outcome so it survives the sm.Result round
// trip: a leading 1 marks a popped value, a lone 0 marks an empty list.
func popResult(value []byte, found bool) []byte {
	if !found {
		return []byte{0}
	}
	return append([]byte{1}, value...)
}

// DecodePopResult is the inverse of the encoding used for LPop/RPop results.
func DecodePopResult(data []byte) ([]byte, bool) {
	if len(data) == 0 || data[0] == 0 {
		return nil, false
	}
	return data[1:], true
}

// ApplyToStore executes one command against the engine. Both the replicated
// state machine and the standalone (single-node, pre-replication) write path
// go through here, so a command has identical semantics in either mode.
func ApplyToStore(eng store.Engine, cmd Command) Result {
	db := int(cmd.DB)
	switch cmd.Op {
	case OpSet:
		if len(cmd.Args) != 1 {
			return Result{Code: uint64(store.RetCInvalidOp), Data: []byte("set expects one value")}
		}
		if err := eng.Set(db, cmd.Key, cmd.Args[0]); err != nil {
			return errResult(err)
		}
		return okResult(nil)
	case OpDelete:
		deleted := int64(0)
		keys := append([]string{cmd.Key}, argsAsKeys(cmd.Args)...)
		for _, key := range keys {
			ok, err := eng.Delete(db, key)
			if err != nil {
				return errResult(err)
			}
			if ok {
				deleted++
			}
		}
		return okResult(strconv.AppendInt(nil, deleted, 10))
	case OpIncrBy:
		if len(cmd.Args) != 1 {
			return Result{Code: uint64(store.RetCInvalidOp), Data: []byte("incrby expects one delta")}
		}
		delta, err := strconv.ParseInt(string(cmd.Args[0]), 10, 64)
		if err != nil {
			return Result{Code: uint64(store.RetCInvalidInt), Data: []byte("value is not an integer or out of range")}
		}
		val, err := eng.IncrBy(db, cmd.Key, delta)
		if err != nil {
			return errResult(err)
		}
		return okResult(strconv.AppendInt(nil, val, 10))
	case OpLPush, OpRPush:
		if len(cmd.Args) == 0 {
			return Result{Code: uint64(store.RetCInvalidOp), Data: []byte("push expects at least one value")}
		}
		length, err := eng.ListPush(db, cmd.Key, cmd.Args, cmd.Op == OpLPush)
		if err != nil {
			return errResult(err)
		}
		return okResult(strconv.AppendInt(nil, length, 10))
	case OpLPop, OpRPop:
		value, found, err := eng.ListPop(db, cmd.Key, cmd.Op == OpLPop)
		if err != nil {
			return errResult(err)
		}
		return okResult(popResult(value, found))
	case OpFlushDB:
		if err := eng.FlushDB(db); err != nil {
			return errResult(err)
		}
		return okResult(nil)
	default:
		return Result{Code: uint64(store.RetCInvalidOp), Data: []byte(fmt.Sprintf("unknown command operation: %s", cmd.Op))}
	}
}

// Writes lists the database/key pairs a command mutates, for dirty-key
// notification after commit.
func (cmd *Command) Writes() []CommittedWrite {
	db := int(cmd.DB)
	switch cmd.Op {
	case OpDelete:
		writes := []CommittedWrite{{DB: db, Key: cmd.Key}}
		for _, key := range argsAsKeys(cmd.Args) {
			writes = append(writes, CommittedWrite{DB: db, Key: key})
		}
		return writes
	case OpFlushDB:
		// flushing has no per-key granularity; callers treat an empty key
		// as "everything in this database"
		return []CommittedWrite{{DB: db}}
	default:
		return []CommittedWrite{{DB: db, Key: cmd.Key}}
	}
}

func argsAsKeys(args [][]byte) []string {
	keys := make([]string, 0, len(args))
	for _, a := range args {
		keys = append(keys, string(a))
	}
	return keys
}

func okResult(data []byte) Result {
	return Result{Code: uint64(store.RetCSuccess), Data: data}
}

func errResult(err error) Result {
	return Result{Code: uint64(store.CodeOf(err)), Data: []byte(err.Error())}
}
