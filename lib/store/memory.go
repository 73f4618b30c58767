package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum       = "PKWSNAP\x00" // snapshot format identifier
	snapshotFormat = 1
)

// entry kinds
const (
	kindString byte = iota
	kindList
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// entry is one typed value slot. Entries are mutated only inside the map's
// per-key compute sections, which serializes all read-modify-write access.
type entry struct {
	kind byte
	str  []byte
	list [][]byte
}

// memoryEngine implements Engine over one concurrent map per database.
type memoryEngine struct {
	dbs     []*xsync.MapOf[string, *entry]
	onWrite WriteHook
}

// Options configures the in-memory engine.
type Options struct {
	Databases int       // number of numbered databases (default 16)
	OnWrite   WriteHook // optional key-write hook
}

// NewMemoryEngine creates a new in-memory engine.
//
// Thread-safety: the returned engine is safe for concurrent use; this
// constructor itself is not and should run once during setup.
func NewMemoryEngine(opts *Options) Engine {
	if opts == nil {
		opts = &Options{}
	}
	n := opts.Databases
	if n <= 0 {
		n = 16
	}
	dbs := make([]*xsync.MapOf[string, *entry], n)
	for i := range dbs {
		dbs[i] = xsync.NewMapOf[string, *entry]()
	}
	return &memoryEngine{dbs: dbs, onWrite: opts.OnWrite}
}

func (e *memoryEngine) dbAt(db int) (*xsync.MapOf[string, *entry], error) {
	if db < 0 || db >= len(e.dbs) {
		return nil, NewError(RetCInvalidOp, fmt.Sprintf("db index %d out of range", db))
	}
	return e.dbs[db], nil
}

func (e *memoryEngine) wrote(db int, key string) {
	if e.onWrite != nil {
		e.onWrite(db, key)
	}
}

// --------------------------------------------------------------------------
// String operations
// --------------------------------------------------------------------------

func (e *memoryEngine) Get(db int, key string) ([]byte, bool, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return nil, false, err
	}
	ent, ok := m.Load(key)
	if !ok {
		return nil, false, nil
	}
	if ent.kind != kindString {
		return nil, false, NewError(RetCWrongType, "key holds a list")
	}
	return ent.str, true, nil
}

func (e *memoryEngine) Set(db int, key string, value []byte) error {
	m, err := e.dbAt(db)
	if err != nil {
		return err
	}
	m.Store(key, &entry{kind: kindString, str: value})
	e.wrote(db, key)
	return nil
}

func (e *memoryEngine) Delete(db int, key string) (bool, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return false, err
	}
	_, existed := m.LoadAndDelete(key)
	if existed {
		e.wrote(db, key)
	}
	return existed, nil
}

func (e *memoryEngine) Exists(db int, key string) (bool, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return false, err
	}
	_, ok := m.Load(key)
	return ok, nil
}

func (e *memoryEngine) IncrBy(db int, key string, delta int64) (int64, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return 0, err
	}
	var result int64
	var opErr error
	m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		cur := int64(0)
		if loaded {
			if old.kind != kindString {
				opErr = NewError(RetCWrongType, "key holds a list")
				return old, false
			}
			v, err := strconv.ParseInt(string(old.str), 10, 64)
			if err != nil {
				opErr = NewError(RetCInvalidInt, "value is not an integer")
				return old, false
			}
			cur = v
		}
		next := cur + delta
		// two's-complement overflow check
		if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
			opErr = NewError(RetCOverflow, "increment would overflow")
			return old, false
		}
		result = next
		return &entry{kind: kindString, str: []byte(strconv.FormatInt(next, 10))}, false
	})
	if opErr != nil {
		return 0, opErr
	}
	e.wrote(db, key)
	return result, nil
}

// --------------------------------------------------------------------------
// List operations
// --------------------------------------------------------------------------

func (e *memoryEngine) ListPush(db int, key string, values [][]byte, left bool) (int64, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return 0, err
	}
	var length int64
	var opErr error
	m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		var list [][]byte
		if loaded {
			if old.kind != kindList {
				opErr = NewError(RetCWrongType, "key holds a string")
				return old, false
			}
			list = old.list
		}
		if left {
			for _, v := range values {
				list = append([][]byte{v}, list...)
			}
		} else {
			list = append(list, values...)
		}
		length = int64(len(list))
		return &entry{kind: kindList, list: list}, false
	})
	if opErr != nil {
		return 0, opErr
	}
	e.wrote(db, key)
	return length, nil
}

func (e *memoryEngine) ListPop(db int, key string, left bool) ([]byte, bool, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return nil, false, err
	}
	var popped []byte
	var found bool
	var opErr error
	m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		if old.kind != kindList {
			opErr = NewError(RetCWrongType, "key holds a string")
			return old, false
		}
		if len(old.list) == 0 {
			return nil, true
		}
		found = true
		if left {
			popped = old.list[0]
			old = &entry{kind: kindList, list: old.list[1:]}
		} else {
			popped = old.list[len(old.list)-1]
			old = &entry{kind: kindList, list: old.list[:len(old.list)-1]}
		}
		// drop empty lists entirely
		return old, len(old.list) == 0
	})
	if opErr != nil {
		return nil, false, opErr
	}
	if found {
		e.wrote(db, key)
	}
	return popped, found, nil
}

func (e *memoryEngine) ListLen(db int, key string) (int64, error) {
	m, err := e.dbAt(db)
	if err != nil {
		return 0, err
	}
	ent, ok := m.Load(key)
	if !ok {
		return 0, nil
	}
	if ent.kind != kindList {
		return 0, NewError(RetCWrongType, "key holds a string")
	}
	return int64(len(ent.list)), nil
}

// --------------------------------------------------------------------------
// Maintenance operations
// --------------------------------------------------------------------------

func (e *memoryEngine) FlushDB(db int) error {
	m, err := e.dbAt(db)
	if err != nil {
		return err
	}
	// A flush writes every key it removes: watchers and blocked waiters must
	// observe the deletion like any other mutation.
	var flushed []string
	m.Range(func(key string, _ *entry) bool {
		flushed = append(flushed, key)
		return true
	})
	m.Clear()
	for _, key := range flushed {
		e.wrote(db, key)
	}
	return nil
}

// --------------------------------------------------------------------------
// Snapshot save / load
// --------------------------------------------------------------------------

// Save writes a fuzzy snapshot: entries written concurrently with the scan
// may or may not be included, which is acceptable because the consensus log
// replays everything after the snapshot index.
func (e *memoryEngine) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(snapshotFormat)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(e.dbs))); err != nil {
		return err
	}
	for _, m := range e.dbs {
		// materialize the scan first so the written count is exact
		type kv struct {
			key string
			ent *entry
		}
		snap := make([]kv, 0, m.Size())
		m.Range(func(key string, ent *entry) bool {
			snap = append(snap, kv{key, ent})
			return true
		})
		if err := binary.Write(bw, binary.BigEndian, uint64(len(snap))); err != nil {
			return err
		}
		for _, item := range snap {
			if err := writeEntry(bw, item.key, item.ent); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func (e *memoryEngine) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return err
	}
	if string(magic) != magicNum {
		return NewError(RetCInvalidOp, "not a snapshot stream")
	}
	var format, numDBs uint32
	if err := binary.Read(br, binary.BigEndian, &format); err != nil {
		return err
	}
	if format != snapshotFormat {
		return NewError(RetCInvalidOp, fmt.Sprintf("unsupported snapshot format %d", format))
	}
	if err := binary.Read(br, binary.BigEndian, &numDBs); err != nil {
		return err
	}
	if int(numDBs) > len(e.dbs) {
		return NewError(RetCInvalidOp, "snapshot has more databases than configured")
	}
	for _, m := range e.dbs {
		m.Clear()
	}
	for db := 0; db < int(numDBs); db++ {
		var count uint64
		if err := binary.Read(br, binary.BigEndian, &count); err != nil {
			return err
		}
		for i := uint64(0); i < count; i++ {
			key, ent, err := readEntry(br)
			if err != nil {
				return err
			}
			e.dbs[db].Store(key, ent)
		}
	}
	return nil
}

func writeEntry(w *bufio.Writer, key string, ent *entry) error {
	if err := w.WriteByte(ent.kind); err != nil {
		return err
	}
	if err := writeBlob(w, []byte(key)); err != nil {
		return err
	}
	switch ent.kind {
	case kindString:
		return writeBlob(w, ent.str)
	case kindList:
		if err := binary.Write(w, binary.BigEndian, uint32(len(ent.list))); err != nil {
			return err
		}
		for _, item := range ent.list {
			if err := writeBlob(w, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return NewError(RetCInvalidOp, "unknown entry kind")
	}
}

func readEntry(r *bufio.Reader) (string, *entry, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return "", nil, err
	}
	key, err := readBlob(r)
	if err != nil {
		return "", nil, err
	}
	ent := &entry{kind: kind}
	switch kind {
	case kindString:
		ent.str, err = readBlob(r)
		if err != nil {
			return "", nil, err
		}
	case kindList:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return "", nil, err
		}
		ent.list = make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := readBlob(r)
			if err != nil {
				return "", nil, err
			}
			ent.list = append(ent.list, item)
		}
	default:
		return "", nil, NewError(RetCInvalidOp, "unknown entry kind in snapshot")
	}
	return string(key), ent, nil
}

func writeBlob(w *bufio.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBlob(r *bufio.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
