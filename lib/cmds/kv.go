package cmds

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/IamJingZhang/pikiwidb/lib/raft"
	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
	"github.com/IamJingZhang/pikiwidb/lib/store"
)

// --------------------------------------------------------------------------
// Strings
// --------------------------------------------------------------------------

func getCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	value, found, err := d.deps.Store.Get(s.CurrentDB(), argv[1])
	if err != nil {
		setEngineError(s, uint64(store.CodeOf(err)), []byte(err.Error()))
		return
	}
	if !found {
		s.Reply.AppendNull()
		return
	}
	s.Reply.AppendString(string(value))
}

func setCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	res := d.applyWrite(raft.Command{
		Op:   raft.OpSet,
		DB:   uint32(s.CurrentDB()),
		Key:  argv[1],
		Args: [][]byte{[]byte(argv[2])},
	})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	s.Reply.SetRes(resp.RetOK)
}

func delCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	extra := make([][]byte, 0, len(argv)-2)
	for _, key := range argv[2:] {
		extra = append(extra, []byte(key))
	}
	res := d.applyWrite(raft.Command{
		Op:   raft.OpDelete,
		DB:   uint32(s.CurrentDB()),
		Key:  argv[1],
		Args: extra,
	})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	n, _ := strconv.ParseInt(string(res.Data), 10, 64)
	s.Reply.AppendInteger(n)
}

func existsCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	count := int64(0)
	for _, key := range argv[1:] {
		ok, err := d.deps.Store.Exists(s.CurrentDB(), key)
		if err != nil {
			setEngineError(s, uint64(store.CodeOf(err)), []byte(err.Error()))
			return
		}
		if ok {
			count++
		}
	}
	s.Reply.AppendInteger(count)
}

// incrByCmd backs INCR, DECR, INCRBY and DECRBY; the command name decides
// the sign and whether a delta argument is present.
func incrByCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	name := strings.ToUpper(argv[0])
	delta := int64(1)
	if len(argv) == 3 {
		var err error
		delta, err = strconv.ParseInt(argv[2], 10, 64)
		if err != nil {
			s.Reply.SetRes(resp.RetInvalidInt)
			return
		}
	}
	if name == "DECR" || name == "DECRBY" {
		if delta == math.MinInt64 {
			s.Reply.SetRes(resp.RetOverflow)
			return
		}
		delta = -delta
	}
	res := d.applyWrite(raft.Command{
		Op:   raft.OpIncrBy,
		DB:   uint32(s.CurrentDB()),
		Key:  argv[1],
		Args: [][]byte{[]byte(strconv.FormatInt(delta, 10))},
	})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	n, _ := strconv.ParseInt(string(res.Data), 10, 64)
	s.Reply.AppendInteger(n)
}

func selectCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	db, err := strconv.Atoi(argv[1])
	if err != nil || db < 0 || db >= d.deps.Databases {
		s.Reply.SetRes(resp.RetInvalidDB)
		return
	}
	s.SetCurrentDB(db)
	s.Reply.SetRes(resp.RetOK)
}

func flushDBCmd(d *Dispatcher, s *session.Session, _ []string, _ *sched.Task) {
	res := d.applyWrite(raft.Command{Op: raft.OpFlushDB, DB: uint32(s.CurrentDB())})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	s.Reply.SetRes(resp.RetOK)
}

// --------------------------------------------------------------------------
// Lists
// --------------------------------------------------------------------------

func pushCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	op := raft.OpRPush
	if strings.ToUpper(argv[0]) == "LPUSH" {
		op = raft.OpLPush
	}
	values := make([][]byte, 0, len(argv)-2)
	for _, v := range argv[2:] {
		values = append(values, []byte(v))
	}
	res := d.applyWrite(raft.Command{
		Op:   op,
		DB:   uint32(s.CurrentDB()),
		Key:  argv[1],
		Args: values,
	})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	n, _ := strconv.ParseInt(string(res.Data), 10, 64)
	s.Reply.AppendInteger(n)
}

func popCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	op := raft.OpRPop
	if strings.ToUpper(argv[0]) == "LPOP" {
		op = raft.OpLPop
	}
	res := d.applyWrite(raft.Command{Op: op, DB: uint32(s.CurrentDB()), Key: argv[1]})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	value, found := raft.DecodePopResult(res.Data)
	if !found {
		s.Reply.AppendNull()
		return
	}
	s.Reply.AppendString(string(value))
}

func llenCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	n, err := d.deps.Store.ListLen(s.CurrentDB(), argv[1])
	if err != nil {
		setEngineError(s, uint64(store.CodeOf(err)), []byte(err.Error()))
		return
	}
	s.Reply.AppendInteger(n)
}

// --------------------------------------------------------------------------
// Blocking reads
// --------------------------------------------------------------------------

func parseTimeout(arg string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(arg, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// blpopCmd pops from a list, parking the session when the list is empty.
// Inside a transaction replay it degrades to a non-blocking pop.
func blpopCmd(d *Dispatcher, s *session.Session, argv []string, t *sched.Task) {
	key := argv[1]
	db := s.CurrentDB()

	// resume path: the notifier resolved the wait
	if t != nil && t.Wake != nil {
		s.ClearWaitingKeys()
		if t.Wake.TimedOut {
			s.Reply.AppendNullArray()
			return
		}
		s.Reply.AppendArrayLen(2)
		s.Reply.AppendString(key)
		s.Reply.AppendString(string(t.Wake.Value))
		return
	}

	timeout, ok := parseTimeout(argv[2])
	if !ok {
		s.Reply.SetRes(resp.RetInvalidFloat)
		return
	}

	// the pop consumes an element, so it goes through consensus like LPOP;
	// a local pop would diverge the replicas
	res := d.applyWrite(raft.Command{Op: raft.OpLPop, DB: uint32(db), Key: key})
	if res.Code != uint64(store.RetCSuccess) {
		setEngineError(s, res.Code, res.Data)
		return
	}
	if value, found := raft.DecodePopResult(res.Data); found {
		s.Reply.AppendArrayLen(2)
		s.Reply.AppendString(key)
		s.Reply.AppendString(string(value))
		return
	}

	// no element and no way to block inside MULTI or without a notifier
	if s.IsFlagOn(session.FlagMulti) || d.deps.Notifier == nil || t == nil {
		s.Reply.AppendNullArray()
		return
	}

	if err := s.WaitFor(key, nil); err != nil {
		s.Reply.SetRes(resp.RetErrOther, err.Error())
		return
	}
	t.Park()
	d.deps.Notifier.Block(db, key, s.ID(), argv, func() ([]byte, bool) {
		// the claim consumes too, so it proposes as well
		res := d.applyWrite(raft.Command{Op: raft.OpLPop, DB: uint32(db), Key: key})
		if res.Code != uint64(store.RetCSuccess) {
			return nil, false
		}
		return raft.DecodePopResult(res.Data)
	}, timeout)
}

// waitForCmd blocks until the key holds the given value. The value is
// observed, not consumed, so every waiting session sees it.
func waitForCmd(d *Dispatcher, s *session.Session, argv []string, t *sched.Task) {
	key := argv[1]
	target := []byte(argv[2])
	db := s.CurrentDB()

	if t != nil && t.Wake != nil {
		s.ClearWaitingKeys()
		if t.Wake.TimedOut {
			s.Reply.AppendNull()
			return
		}
		s.Reply.AppendString(string(t.Wake.Value))
		return
	}

	timeout := time.Duration(0)
	if len(argv) > 3 {
		var ok bool
		timeout, ok = parseTimeout(argv[3])
		if !ok {
			s.Reply.SetRes(resp.RetInvalidFloat)
			return
		}
	}

	matches := func() ([]byte, bool) {
		v, found, err := d.deps.Store.Get(db, key)
		if err != nil || !found || string(v) != string(target) {
			return nil, false
		}
		return v, true
	}

	if v, ok := matches(); ok {
		s.Reply.AppendString(string(v))
		return
	}
	if s.IsFlagOn(session.FlagMulti) || d.deps.Notifier == nil || t == nil {
		s.Reply.AppendNull()
		return
	}

	if err := s.WaitFor(key, target); err != nil {
		s.Reply.SetRes(resp.RetErrOther, err.Error())
		return
	}
	t.Park()
	d.deps.Notifier.Block(db, key, s.ID(), argv, matches, timeout)
}
