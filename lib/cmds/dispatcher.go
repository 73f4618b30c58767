package cmds

import (
	"fmt"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/IamJingZhang/pikiwidb/lib/raft"
	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
	"github.com/IamJingZhang/pikiwidb/lib/store"
)

var log = logger.GetLogger("cmds")

// Deps are the collaborators a dispatcher executes commands against. Raft,
// Joiner and Notifier may be nil for reduced setups (tests, standalone
// without clustering).
type Deps struct {
	Registry *session.Registry
	Store    store.Engine
	Raft     raft.Engine
	Joiner   *raft.Coordinator
	Notifier *sched.Notifier
	Sched    *sched.Scheduler

	// Password enables AUTH when non-empty.
	Password string
	// Databases is the number of numbered databases SELECT accepts.
	Databases int
	Version   string
	StartTime time.Time
}

// Dispatcher executes scheduled invocations. It implements sched.Executor.
type Dispatcher struct {
	deps  Deps
	stats *session.CommandStats // aggregate across sessions, for INFO
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Databases <= 0 {
		deps.Databases = 16
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Dispatcher{deps: deps, stats: session.NewCommandStats()}
}

// Bind attaches the scheduler and notifier. They take the dispatcher as
// their executor, so wiring happens in two steps.
func (d *Dispatcher) Bind(s *sched.Scheduler, n *sched.Notifier) {
	d.deps.Sched = s
	d.deps.Notifier = n
}

// Stats returns the aggregate per-command statistics.
func (d *Dispatcher) Stats() *session.CommandStats { return d.stats }

// Execute runs one invocation through its full lifecycle. Invocations
// whose session is gone or closed complete as no-ops.
func (d *Dispatcher) Execute(t *sched.Task) {
	s, ok := d.deps.Registry.Get(t.SessionID)
	if !ok || s.State() == session.StateClosed {
		return
	}

	s.Time.EnqueueTs = t.EnqueueTs()
	s.Time.DequeueTs = time.Now()

	d.dispatch(s, t.Argv, t)

	s.Time.DoneTs = time.Now()
	name := s.FullCmdName()
	if name != "" {
		elapsed := s.Time.DoneTs.Sub(s.Time.DequeueTs)
		s.Stats().Record(name, elapsed)
		d.stats.Record(name, elapsed)
		metrics.GetOrCreateCounter(fmt.Sprintf(`cmds_executed_total{cmd=%q}`, name)).Inc()
	}

	// parked invocations reply later, through the resume path
	if !t.Parked() {
		s.SendPacket()
	}
}

// dispatch applies queueing, auth and arity rules, then runs the handler.
func (d *Dispatcher) dispatch(s *session.Session, argv []string, t *sched.Task) {
	if len(argv) == 0 {
		return
	}
	name := strings.ToLower(argv[0])
	s.SetCmdName(name)
	s.SetSubCmdName("")

	c, known := lookup(argv[0])

	// inside MULTI almost everything is queued, not executed; malformed
	// commands poison the transaction instead
	if s.IsFlagOn(session.FlagMulti) && (!known || !c.noMultiQueue) {
		switch {
		case !known:
			s.FlagExecWrong()
			s.Reply.SetRes(resp.RetUnknownCmd, argv[0])
		case !c.checkArity(len(argv)):
			s.FlagExecWrong()
			s.Reply.SetRes(resp.RetWrongNum, c.name)
		default:
			s.QueueCommand(argv)
			s.Reply.AppendStatus("QUEUED")
		}
		return
	}

	if !known {
		s.Reply.SetRes(resp.RetUnknownCmd, argv[0])
		return
	}
	if !c.checkArity(len(argv)) {
		s.Reply.SetRes(resp.RetWrongNum, c.name)
		return
	}
	if d.deps.Password != "" && !s.GetAuth() && !c.noAuth {
		s.Reply.SetRes(resp.RetNoAuth)
		return
	}

	c.handler(d, s, argv, t)
}

// runQueued replays one queued transaction command. Queueing already
// validated existence and arity, so the handler runs directly.
func (d *Dispatcher) runQueued(s *session.Session, argv []string, t *sched.Task) {
	c, ok := lookup(argv[0])
	if !ok {
		s.Reply.SetRes(resp.RetUnknownCmd, argv[0])
		return
	}
	s.SetCmdName(c.name)
	s.SetSubCmdName("")
	c.handler(d, s, argv, t)
}

// applyWrite routes a write command through consensus when the node is a
// group member, and straight to the local store otherwise.
func (d *Dispatcher) applyWrite(cmd raft.Command) raft.Result {
	if d.deps.Raft != nil && d.deps.Raft.Initialized() {
		res, err := d.deps.Raft.Propose(cmd)
		if err != nil {
			log.Errorf("proposal of %s %q failed: %v", cmd.Op, cmd.Key, err)
			return raft.Result{Code: uint64(store.RetCInternalError), Data: []byte(err.Error())}
		}
		return res
	}
	return raft.ApplyToStore(d.deps.Store, cmd)
}

// setEngineError maps an engine return code onto the protocol reply.
func setEngineError(s *session.Session, code uint64, data []byte) {
	switch store.RetCode(code) {
	case store.RetCWrongType:
		s.Reply.SetRes(resp.RetWrongType)
	case store.RetCInvalidInt:
		s.Reply.SetRes(resp.RetInvalidInt)
	case store.RetCOverflow:
		s.Reply.SetRes(resp.RetOverflow)
	default:
		s.Reply.SetRes(resp.RetErrOther, string(data))
	}
}
