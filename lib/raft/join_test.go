package raft

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeConsensus is an Engine double recording Init calls.
type fakeConsensus struct {
	mu      sync.Mutex
	inited  bool
	groupID string
	initErr error
}

func (f *fakeConsensus) Init(groupID string, founding bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return f.initErr
	}
	if f.inited {
		return ErrAlreadyInitialized
	}
	f.inited = true
	f.groupID = groupID
	return nil
}

func (f *fakeConsensus) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inited
}

func (f *fakeConsensus) Propose(Command) (Result, error) { return Result{}, ErrNotInitialized }
func (f *fakeConsensus) Apply(Command)                   {}
func (f *fakeConsensus) AddPeer(string) error            { return nil }
func (f *fakeConsensus) RemovePeer(string) error         { return nil }
func (f *fakeConsensus) IsLeader() bool                  { return false }
func (f *fakeConsensus) LeaderAddr() (string, bool)      { return "", false }
func (f *fakeConsensus) Shutdown() error                 { return nil }

func (f *fakeConsensus) Identity() GroupIdentity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return GroupIdentity{GroupID: f.groupID}
}

// fakePeer is a line-oriented server answering join-protocol requests.
func fakePeer(t *testing.T, handle func(req string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if _, err := conn.Write([]byte(handle(strings.TrimSpace(line)))); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func awaitJoin(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("join did not complete")
		return nil
	}
}

const testGroupID = "deadbeef01234567"

func TestJoinWithLeaderRedirect(t *testing.T) {
	var leaderAdds []string
	var mu sync.Mutex
	leaderAddr := fakePeer(t, func(req string) string {
		if strings.HasPrefix(req, "RAFT.NODE ADD") {
			mu.Lock()
			leaderAdds = append(leaderAdds, req)
			mu.Unlock()
			return "+OK\r\n"
		}
		return "-ERR unexpected\r\n"
	})
	seedAddr := fakePeer(t, func(req string) string {
		switch {
		case strings.HasPrefix(req, "INFO raft"):
			return fmt.Sprintf("+OK\r\nraft_group_id:%s\r\n", testGroupID)
		case strings.HasPrefix(req, "RAFT.NODE ADD"):
			return fmt.Sprintf("-ERR wrong leader %s\r\n", leaderAddr)
		default:
			return "-ERR unexpected\r\n"
		}
	})

	engine := &fakeConsensus{}
	c := NewCoordinator(engine, "10.0.0.9:9001", time.Second)
	errCh := make(chan error, 1)
	if err := c.Join(seedAddr, func(err error) { errCh <- err }); err != nil {
		t.Fatal(err)
	}

	if err := awaitJoin(t, errCh); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if !engine.Initialized() || engine.Identity().GroupID != testGroupID {
		t.Fatalf("engine not initialized with group id: %+v", engine.Identity())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(leaderAdds) != 1 || !strings.Contains(leaderAdds[0], "10.0.0.9:9001") {
		t.Fatalf("leader saw add requests %v", leaderAdds)
	}
	if phase, _ := c.Phase(); phase != PhaseDone {
		t.Fatalf("phase after success: %s", phase)
	}
}

func TestJoinDirectSuccess(t *testing.T) {
	seedAddr := fakePeer(t, func(req string) string {
		if strings.HasPrefix(req, "INFO raft") {
			return "raft_group_id:" + testGroupID + "\r\n"
		}
		return "+OK\r\n"
	})

	engine := &fakeConsensus{}
	c := NewCoordinator(engine, "10.0.0.9:9001", time.Second)
	errCh := make(chan error, 1)
	if err := c.Join(seedAddr, func(err error) { errCh <- err }); err != nil {
		t.Fatal(err)
	}
	if err := awaitJoin(t, errCh); err != nil {
		t.Fatalf("join failed: %v", err)
	}
}

func TestJoinSecondRedirectFails(t *testing.T) {
	// every peer claims some other node leads; one hop is followed, the
	// second redirect aborts the join
	var bouncer string
	bouncer = fakePeer(t, func(req string) string {
		if strings.HasPrefix(req, "INFO raft") {
			return "raft_group_id:" + testGroupID + "\r\n"
		}
		return fmt.Sprintf("-ERR wrong leader %s\r\n", bouncer)
	})

	engine := &fakeConsensus{}
	c := NewCoordinator(engine, "10.0.0.9:9001", time.Second)
	errCh := make(chan error, 1)
	if err := c.Join(bouncer, func(err error) { errCh <- err }); err != nil {
		t.Fatal(err)
	}
	err := awaitJoin(t, errCh)
	if err == nil || !strings.Contains(err.Error(), "giving up") {
		t.Fatalf("want bounded-redirect failure, got %v", err)
	}
	if phase, _ := c.Phase(); phase != PhaseFailed {
		t.Fatalf("phase after failure: %s", phase)
	}
}

func TestJoinGarbledReplyFails(t *testing.T) {
	seedAddr := fakePeer(t, func(req string) string {
		if strings.HasPrefix(req, "INFO raft") {
			return "raft_group_id:" + testGroupID + "\r\n"
		}
		return "$5\r\nhello\r\n"
	})

	engine := &fakeConsensus{}
	c := NewCoordinator(engine, "10.0.0.9:9001", time.Second)
	errCh := make(chan error, 1)
	if err := c.Join(seedAddr, func(err error) { errCh <- err }); err != nil {
		t.Fatal(err)
	}
	if err := awaitJoin(t, errCh); err == nil {
		t.Fatal("garbled add-peer reply accepted")
	}
}

func TestJoinNoGroupIDFails(t *testing.T) {
	seedAddr := fakePeer(t, func(string) string { return "+OK no identifier here\r\n" })

	engine := &fakeConsensus{}
	c := NewCoordinator(engine, "10.0.0.9:9001", time.Second)
	errCh := make(chan error, 1)
	if err := c.Join(seedAddr, func(err error) { errCh <- err }); err != nil {
		t.Fatal(err)
	}
	if err := awaitJoin(t, errCh); err == nil {
		t.Fatal("missing group id accepted")
	}
	if engine.Initialized() {
		t.Fatal("engine initialized despite failed handshake")
	}
}

func TestJoinRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	seedAddr := fakePeer(t, func(req string) string {
		if strings.HasPrefix(req, "INFO raft") {
			<-release
			return "raft_group_id:" + testGroupID + "\r\n"
		}
		return "+OK\r\n"
	})

	engine := &fakeConsensus{}
	c := NewCoordinator(engine, "10.0.0.9:9001", 3*time.Second)
	errCh := make(chan error, 1)
	if err := c.Join(seedAddr, func(err error) { errCh <- err }); err != nil {
		t.Fatal(err)
	}

	if err := c.Join(seedAddr, func(error) {}); err == nil {
		t.Fatal("overlapping join accepted")
	}
	close(release)
	awaitJoin(t, errCh)
}

func TestJoinRejectsWhenAlreadyMember(t *testing.T) {
	engine := &fakeConsensus{}
	if err := engine.Init(testGroupID, true); err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(engine, "10.0.0.9:9001", time.Second)
	if err := c.Join("127.0.0.1:1", func(error) {}); err == nil {
		t.Fatal("join accepted while already a group member")
	}
}

func TestParseGroupID(t *testing.T) {
	if id, ok := parseGroupID("+OK\r\nraft_group_id:" + testGroupID + "\r\nother:1\r\n"); !ok || id != testGroupID {
		t.Fatalf("got %q %t", id, ok)
	}
	if _, ok := parseGroupID("raft_group_id:tooshort"); ok {
		t.Fatal("short id accepted")
	}
	if _, ok := parseGroupID("raft_group_id:ZZZZZZZZZZZZZZZZ"); ok {
		t.Fatal("non-hex id accepted")
	}
	if _, ok := parseGroupID("no marker"); ok {
		t.Fatal("missing marker accepted")
	}
}

func TestParseWrongLeader(t *testing.T) {
	if addr, ok := parseWrongLeader("-ERR wrong leader 10.0.0.2:9001\r\n"); !ok || addr != "10.0.0.2:9001" {
		t.Fatalf("got %q %t", addr, ok)
	}
	if _, ok := parseWrongLeader("-ERR wrong leader \r\n"); ok {
		t.Fatal("empty address accepted")
	}
	if _, ok := parseWrongLeader("-ERR something else\r\n"); ok {
		t.Fatal("unrelated error accepted")
	}
}
