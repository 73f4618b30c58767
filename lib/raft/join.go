package raft

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/IamJingZhang/pikiwidb/lib/util"
)

// joinMaxRedirects bounds wrong-leader hops beyond the seed peer. The
// handshake assumes at most one redirect; a second one fails the join.
const joinMaxRedirects = 1

// JoinPhase is the handshake state of an in-flight join.
type JoinPhase uint8

const (
	PhaseIdle JoinPhase = iota
	PhaseAwaitingGroupInfo
	PhaseAwaitingAddAck
	PhaseRedirecting
	PhaseReconnecting
	PhaseDone
	PhaseFailed
)

func (p JoinPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitingGroupInfo:
		return "AwaitingGroupInfo"
	case PhaseAwaitingAddAck:
		return "AwaitingAddAck"
	case PhaseRedirecting:
		return "Redirecting"
	case PhaseReconnecting:
		return "Reconnecting"
	case PhaseDone:
		return "Done"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// DialFunc opens a connection to a peer. Swappable for tests.
type DialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// Coordinator drives the handshake that adds this node to an existing
// replication group: ask a seed peer for the group id, initialize the local
// engine as a non-founding member, request membership from the leader, and
// follow at most one wrong-leader redirect.
//
// At most one join may be in flight per process; a second request while one
// is active is rejected.
type Coordinator struct {
	engine   Engine
	selfAddr string
	dial     DialFunc
	timeout  time.Duration

	mu     sync.Mutex
	active bool
	phase  JoinPhase
	target string
}

// NewCoordinator creates a join coordinator announcing selfAddr as this
// node's raft address.
func NewCoordinator(engine Engine, selfAddr string, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Coordinator{
		engine:   engine,
		selfAddr: selfAddr,
		timeout:  timeout,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
}

// Phase returns the current handshake phase and peer being contacted.
func (c *Coordinator) Phase() (JoinPhase, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.target
}

// Join starts the handshake against a seed peer. The result is delivered
// through done from the coordinator's goroutine; done is called exactly
// once. Returns an error immediately if a join is already in flight or the
// engine is already part of a group.
func (c *Coordinator) Join(seedAddr string, done func(err error)) error {
	if c.engine.Initialized() {
		return fmt.Errorf("already a member of group %s", c.engine.Identity().GroupID)
	}

	c.mu.Lock()
	if c.active {
		target := c.target
		c.mu.Unlock()
		return fmt.Errorf("a join via %s is already in progress", target)
	}
	c.active = true
	c.phase = PhaseAwaitingGroupInfo
	c.target = seedAddr
	c.mu.Unlock()

	go func() {
		err := c.run(seedAddr)
		c.mu.Lock()
		c.active = false
		if err != nil {
			c.phase = PhaseFailed
		} else {
			c.phase = PhaseDone
		}
		c.target = ""
		c.mu.Unlock()
		done(err)
	}()
	return nil
}

func (c *Coordinator) run(seedAddr string) error {
	conn, err := c.dial(seedAddr, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to seed %s: %w", seedAddr, err)
	}
	defer func() { conn.Close() }()

	// phase 1: learn the group id from the seed
	reply, err := c.exchange(conn, "INFO raft\r\n")
	if err != nil {
		return fmt.Errorf("INFO raft against %s failed: %w", seedAddr, err)
	}
	groupID, ok := parseGroupID(reply)
	if !ok {
		return fmt.Errorf("no group id in INFO reply from %s", seedAddr)
	}
	log.Infof("join: seed %s reports group %s", seedAddr, groupID)

	if err := c.engine.Init(groupID, false); err != nil {
		return fmt.Errorf("failed to initialize as member of %s: %w", groupID, err)
	}

	// phase 2: ask for membership, following wrong-leader redirects
	c.setPhase(PhaseAwaitingAddAck, seedAddr)
	addReq := fmt.Sprintf("RAFT.NODE ADD 0 %s\r\n", c.selfAddr)

	for hop := 0; ; hop++ {
		reply, err = c.exchange(conn, addReq)
		if err != nil {
			return fmt.Errorf("add-peer request failed: %w", err)
		}

		if strings.Contains(reply, "+OK") {
			return nil
		}

		leaderAddr, redirected := parseWrongLeader(reply)
		if !redirected {
			return fmt.Errorf("unexpected add-peer reply: %q", strings.TrimSpace(reply))
		}
		if hop >= joinMaxRedirects {
			return fmt.Errorf("leader moved again (to %s) after %d redirect(s), giving up", leaderAddr, hop)
		}

		log.Infof("join: redirected to leader %s", leaderAddr)
		c.setPhase(PhaseRedirecting, leaderAddr)
		conn.Close()

		c.setPhase(PhaseReconnecting, leaderAddr)
		conn, err = c.dial(leaderAddr, c.timeout)
		if err != nil {
			return fmt.Errorf("failed to connect to leader %s: %w", leaderAddr, err)
		}
		c.setPhase(PhaseAwaitingAddAck, leaderAddr)
	}
}

func (c *Coordinator) setPhase(phase JoinPhase, target string) {
	c.mu.Lock()
	c.phase = phase
	c.target = target
	c.mu.Unlock()
}

// exchange writes one request and reads whatever reply arrives within the
// timeout. Replies are matched on content, not parsed structurally, so the
// handshake works against any peer speaking the wire protocol.
func (c *Coordinator) exchange(conn net.Conn, req string) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		return "", err
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// parseGroupID extracts the group id from an INFO reply containing a line
// of the form "raft_group_id:<id>".
func parseGroupID(reply string) (string, bool) {
	const marker = "raft_group_id:"
	idx := strings.Index(reply, marker)
	if idx < 0 {
		return "", false
	}
	rest := reply[idx+len(marker):]
	if len(rest) < util.GroupIDLen {
		return "", false
	}
	id := rest[:util.GroupIDLen]
	for i := 0; i < len(id); i++ {
		ch := id[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return "", false
		}
	}
	return id, true
}

// parseWrongLeader extracts the leader address from a reply containing
// "-ERR wrong leader <ip:port>".
func parseWrongLeader(reply string) (string, bool) {
	const marker = "wrong leader"
	idx := strings.Index(reply, marker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(reply[idx+len(marker):])
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	if rest == "" || !strings.Contains(rest, ":") {
		return "", false
	}
	return rest, true
}
