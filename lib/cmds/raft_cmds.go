package cmds

import (
	"strings"

	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
	"github.com/IamJingZhang/pikiwidb/lib/util"
)

// raftClusterCmd handles RAFT.CLUSTER INIT and RAFT.CLUSTER JOIN.
func raftClusterCmd(d *Dispatcher, s *session.Session, argv []string, t *sched.Task) {
	sub := strings.ToLower(argv[1])
	s.SetSubCmdName(sub)

	if d.deps.Raft == nil {
		s.Reply.SetRes(resp.RetErrOther, "consensus is not configured on this node")
		return
	}

	switch sub {
	case "init":
		if d.deps.Raft.Initialized() {
			s.Reply.SetRes(resp.RetErrOther, "cluster is already initialized")
			return
		}
		groupID := util.GenerateGroupID()
		if err := d.deps.Raft.Init(groupID, true); err != nil {
			s.Reply.SetRes(resp.RetErrOther, err.Error())
			return
		}
		s.Reply.AppendString(groupID)

	case "join":
		if len(argv) != 3 {
			s.Reply.SetRes(resp.RetWrongNum, "raft.cluster|join")
			return
		}
		// resume path: the coordinator finished while the session was parked
		if t != nil && t.Wake != nil {
			if t.Wake.Err != nil {
				s.Reply.SetRes(resp.RetErrOther, t.Wake.Err.Error())
				return
			}
			s.Reply.SetRes(resp.RetOK)
			return
		}
		if d.deps.Joiner == nil || d.deps.Sched == nil || t == nil {
			s.Reply.SetRes(resp.RetErrOther, "join is not available on this node")
			return
		}
		seedAddr := argv[2]
		sessionID := s.ID()
		sc := d.deps.Sched
		err := d.deps.Joiner.Join(seedAddr, func(joinErr error) {
			sc.Unpark(sessionID, argv, &sched.WakeEvent{Err: joinErr})
		})
		if err != nil {
			s.Reply.SetRes(resp.RetErrOther, err.Error())
			return
		}
		// the reply is produced by the resume invocation
		t.Park()

	default:
		s.Reply.SetRes(resp.RetUnknownSubCmd, sub)
	}
}

// raftNodeCmd handles RAFT.NODE ADD and RAFT.NODE REMOVE. Membership
// changes are accepted only on the leader; followers redirect the caller.
func raftNodeCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	sub := strings.ToLower(argv[1])
	s.SetSubCmdName(sub)

	if d.deps.Raft == nil || !d.deps.Raft.Initialized() {
		s.Reply.SetRes(resp.RetErrOther, "cluster is not initialized")
		return
	}

	switch sub {
	case "add":
		// RAFT.NODE ADD <ignoredId> <ip:port>
		if len(argv) != 4 {
			s.Reply.SetRes(resp.RetWrongNum, "raft.node|add")
			return
		}
		if !d.deps.Raft.IsLeader() {
			d.redirectToLeader(s)
			return
		}
		if err := d.deps.Raft.AddPeer(argv[3]); err != nil {
			s.Reply.SetRes(resp.RetErrOther, err.Error())
			return
		}
		s.Reply.SetRes(resp.RetOK)

	case "remove":
		if len(argv) != 3 {
			s.Reply.SetRes(resp.RetWrongNum, "raft.node|remove")
			return
		}
		if !d.deps.Raft.IsLeader() {
			d.redirectToLeader(s)
			return
		}
		if err := d.deps.Raft.RemovePeer(argv[2]); err != nil {
			s.Reply.SetRes(resp.RetErrOther, err.Error())
			return
		}
		s.Reply.SetRes(resp.RetOK)

	default:
		s.Reply.SetRes(resp.RetUnknownSubCmd, sub)
	}
}

func (d *Dispatcher) redirectToLeader(s *session.Session) {
	leaderAddr, ok := d.deps.Raft.LeaderAddr()
	if !ok {
		s.Reply.SetRes(resp.RetErrOther, "no leader is known yet")
		return
	}
	s.Reply.SetRes(resp.RetWrongLeader, leaderAddr)
}
