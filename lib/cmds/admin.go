package cmds

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
)

func pingCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	switch len(argv) {
	case 1:
		s.Reply.SetRes(resp.RetPong)
	case 2:
		s.Reply.AppendString(argv[1])
	default:
		s.Reply.SetRes(resp.RetWrongNum, "ping")
	}
}

func echoCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	s.Reply.AppendString(argv[1])
}

func authCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	if d.deps.Password == "" {
		s.Reply.SetRes(resp.RetErrOther, "Client sent AUTH, but no password is set")
		return
	}
	if argv[1] != d.deps.Password {
		s.Reply.SetRes(resp.RetInvalidPwd)
		return
	}
	s.SetAuth()
	s.Reply.SetRes(resp.RetOK)
}

func clientCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	sub := strings.ToLower(argv[1])
	s.SetSubCmdName(sub)
	switch sub {
	case "setname":
		if len(argv) != 3 {
			s.Reply.SetRes(resp.RetWrongNum, "client|setname")
			return
		}
		s.SetName(argv[2])
		s.Reply.SetRes(resp.RetOK)
	case "getname":
		if name := s.Name(); name != "" {
			s.Reply.AppendString(name)
		} else {
			s.Reply.AppendNull()
		}
	case "id":
		s.Reply.AppendInteger(int64(s.ID()))
	case "list":
		var sb strings.Builder
		d.deps.Registry.Range(func(c *session.Session) bool {
			fmt.Fprintf(&sb, "id=%d addr=%s name=%s db=%d\n", c.ID(), c.PeerAddr(), c.Name(), c.CurrentDB())
			return true
		})
		s.Reply.AppendString(sb.String())
	default:
		s.Reply.SetRes(resp.RetUnknownSubCmd, sub)
	}
}

func commandCmd(_ *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	if len(argv) > 1 {
		sub := strings.ToLower(argv[1])
		s.SetSubCmdName(sub)
		if sub == "count" {
			s.Reply.AppendInteger(int64(len(commandTable)))
			return
		}
		s.Reply.SetRes(resp.RetUnknownSubCmd, sub)
		return
	}
	names := make([]string, 0, len(commandTable))
	for _, c := range commandTable {
		names = append(names, c.name)
	}
	sort.Strings(names)
	s.Reply.AppendStringVector(names)
}

func configCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	sub := strings.ToLower(argv[1])
	s.SetSubCmdName(sub)
	if sub != "get" || len(argv) != 3 {
		s.Reply.SetRes(resp.RetUnknownSubCmd, sub)
		return
	}
	switch strings.ToLower(argv[2]) {
	case "databases":
		s.Reply.AppendStringVector([]string{"databases", strconv.Itoa(d.deps.Databases)})
	case "maxmemory":
		s.Reply.AppendStringVector([]string{"maxmemory", "0"})
	default:
		s.Reply.AppendArrayLen(0)
	}
}

// --------------------------------------------------------------------------
// INFO
// --------------------------------------------------------------------------

func infoCmd(d *Dispatcher, s *session.Session, argv []string, _ *sched.Task) {
	section := ""
	if len(argv) > 1 {
		section = strings.ToLower(argv[1])
	}

	var sb strings.Builder
	all := section == ""
	if all || section == "server" {
		d.infoServer(&sb)
	}
	if all || section == "clients" {
		d.infoClients(&sb)
	}
	if all || section == "raft" {
		d.infoRaft(&sb)
	}
	if all || section == "commandstats" {
		d.infoCommandStats(&sb)
	}
	if sb.Len() == 0 {
		s.Reply.AppendString("")
		return
	}
	s.Reply.AppendString(sb.String())
}

func (d *Dispatcher) infoServer(sb *strings.Builder) {
	sb.WriteString("# Server\r\n")
	fmt.Fprintf(sb, "version:%s\r\n", d.deps.Version)
	fmt.Fprintf(sb, "go_version:%s\r\n", runtime.Version())
	fmt.Fprintf(sb, "uptime_in_seconds:%d\r\n", int64(time.Since(d.deps.StartTime).Seconds()))
	sb.WriteString("\r\n")
}

func (d *Dispatcher) infoClients(sb *strings.Builder) {
	sb.WriteString("# Clients\r\n")
	fmt.Fprintf(sb, "connected_clients:%d\r\n", d.deps.Registry.Count())
	sb.WriteString("\r\n")
}

func (d *Dispatcher) infoRaft(sb *strings.Builder) {
	sb.WriteString("# Raft\r\n")
	eng := d.deps.Raft
	if eng == nil || !eng.Initialized() {
		sb.WriteString("raft_initialized:0\r\n\r\n")
		return
	}
	identity := eng.Identity()
	leaderAddr, _ := eng.LeaderAddr()
	sb.WriteString("raft_initialized:1\r\n")
	fmt.Fprintf(sb, "raft_group_id:%s\r\n", identity.GroupID)
	fmt.Fprintf(sb, "raft_node_id:%d\r\n", identity.NodeID)
	fmt.Fprintf(sb, "raft_peer_addr:%s\r\n", identity.RaftAddr)
	fmt.Fprintf(sb, "raft_is_leader:%d\r\n", boolToInt(eng.IsLeader()))
	fmt.Fprintf(sb, "raft_leader_addr:%s\r\n", leaderAddr)
	sb.WriteString("\r\n")
}

func (d *Dispatcher) infoCommandStats(sb *strings.Builder) {
	sb.WriteString("# Commandstats\r\n")
	type row struct {
		name          string
		count, micros uint64
	}
	var rows []row
	d.stats.Range(func(name string, count, micros uint64) bool {
		rows = append(rows, row{name, count, micros})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	for _, r := range rows {
		perCall := float64(0)
		if r.count > 0 {
			perCall = float64(r.micros) / float64(r.count)
		}
		fmt.Fprintf(sb, "cmdstat_%s:calls=%d,usec=%d,usec_per_call=%.2f\r\n", r.name, r.count, r.micros, perCall)
	}
	sb.WriteString("\r\n")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
