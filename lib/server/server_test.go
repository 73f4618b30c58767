package server

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(Config{
		Addr:     "127.0.0.1:0",
		RaftAddr: "127.0.0.1:63999",
		DataDir:  t.TempDir(),
		LogLevel: "error",
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go func() {
		if err := srv.Serve(); err != nil {
			t.Errorf("Serve failed: %v", err)
		}
	}()
	t.Cleanup(srv.Shutdown)
	return srv
}

// testClient drives one client connection with inline commands.
type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialTest(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, cmd string) {
	t.Helper()
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to send %q: %v", cmd, err)
	}
}

func (c *testClient) line(t *testing.T) string {
	t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %v", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read reply line: %v", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}

// reply reads one complete reply and flattens it: status/error/integer
// replies come back verbatim, bulk strings as their payload, arrays as
// space-joined elements.
func (c *testClient) reply(t *testing.T) string {
	t.Helper()
	line := c.line(t)
	if line == "" {
		t.Fatalf("empty reply line")
	}
	switch line[0] {
	case '+', '-', ':':
		return line
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			t.Fatalf("bad bulk header %q: %v", line, err)
		}
		if n < 0 {
			return line
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			t.Fatalf("failed to read bulk payload: %v", err)
		}
		return string(buf[:n])
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			t.Fatalf("bad array header %q: %v", line, err)
		}
		if n < 0 {
			return line
		}
		parts := make([]string, 0, n)
		for i := 0; i < n; i++ {
			parts = append(parts, c.reply(t))
		}
		return strings.Join(parts, " ")
	}
	t.Fatalf("unexpected reply line %q", line)
	return ""
}

func (c *testClient) roundtrip(t *testing.T, cmd string) string {
	t.Helper()
	c.send(t, cmd)
	return c.reply(t)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestServerPingSetGet(t *testing.T) {
	srv := startTestServer(t)
	c := dialTest(t, srv.Addr())

	if got := c.roundtrip(t, "PING"); got != "+PONG" {
		t.Errorf("PING = %q, want +PONG", got)
	}
	if got := c.roundtrip(t, "SET greeting hello"); got != "+OK" {
		t.Errorf("SET = %q, want +OK", got)
	}
	if got := c.roundtrip(t, "GET greeting"); got != "hello" {
		t.Errorf("GET = %q, want hello", got)
	}
	if got := c.roundtrip(t, "GET missing"); got != "$-1" {
		t.Errorf("GET missing = %q, want $-1", got)
	}
}

func TestServerDatabaseIsolationAcrossConnections(t *testing.T) {
	srv := startTestServer(t)
	a := dialTest(t, srv.Addr())
	b := dialTest(t, srv.Addr())

	if got := a.roundtrip(t, "SELECT 1"); got != "+OK" {
		t.Fatalf("SELECT = %q, want +OK", got)
	}
	if got := a.roundtrip(t, "SET shared one"); got != "+OK" {
		t.Fatalf("SET = %q, want +OK", got)
	}

	// b still reads database 0
	if got := b.roundtrip(t, "GET shared"); got != "$-1" {
		t.Errorf("GET in db 0 = %q, want $-1", got)
	}
	if got := b.roundtrip(t, "SELECT 1"); got != "+OK" {
		t.Fatalf("SELECT = %q, want +OK", got)
	}
	if got := b.roundtrip(t, "GET shared"); got != "one" {
		t.Errorf("GET in db 1 = %q, want one", got)
	}
}

func TestServerBlockingPopAcrossConnections(t *testing.T) {
	srv := startTestServer(t)
	blocked := dialTest(t, srv.Addr())
	pusher := dialTest(t, srv.Addr())

	blocked.send(t, "BLPOP jobs 5")
	// give the blocked session time to park before pushing
	time.Sleep(50 * time.Millisecond)

	if got := pusher.roundtrip(t, "LPUSH jobs payload"); got != ":1" {
		t.Fatalf("LPUSH = %q, want :1", got)
	}
	if got := blocked.reply(t); got != "jobs payload" {
		t.Errorf("BLPOP woke with %q, want %q", got, "jobs payload")
	}

	// the delivered element was consumed
	if got := pusher.roundtrip(t, "LLEN jobs"); got != ":0" {
		t.Errorf("LLEN = %q, want :0", got)
	}
}

func TestServerPubSubAcrossConnections(t *testing.T) {
	srv := startTestServer(t)
	sub := dialTest(t, srv.Addr())
	pub := dialTest(t, srv.Addr())

	if got := sub.roundtrip(t, "SUBSCRIBE events"); got != "subscribe events :1" {
		t.Fatalf("SUBSCRIBE = %q", got)
	}
	if got := pub.roundtrip(t, "PUBLISH events deploy"); got != ":1" {
		t.Fatalf("PUBLISH = %q, want :1", got)
	}
	if got := sub.reply(t); got != "message events deploy" {
		t.Errorf("delivery = %q, want %q", got, "message events deploy")
	}
}

func TestServerDisconnectReleasesBlockedWaiter(t *testing.T) {
	srv := startTestServer(t)
	doomed := dialTest(t, srv.Addr())
	other := dialTest(t, srv.Addr())

	doomed.send(t, "BLPOP queue 30")
	time.Sleep(50 * time.Millisecond)
	_ = doomed.conn.Close()
	time.Sleep(50 * time.Millisecond)

	// the push must not be consumed by the dead waiter
	if got := other.roundtrip(t, "LPUSH queue survivor"); got != ":1" {
		t.Fatalf("LPUSH = %q, want :1", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := other.roundtrip(t, "LLEN queue"); got == ":1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("element vanished after waiter disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerInfoBeforeClusterInit(t *testing.T) {
	srv := startTestServer(t)
	c := dialTest(t, srv.Addr())

	info := c.roundtrip(t, "INFO raft")
	if !strings.Contains(info, "raft_initialized:0") {
		t.Errorf("INFO raft = %q, want raft_initialized:0", info)
	}
}

func TestServerMultiExecOverWire(t *testing.T) {
	srv := startTestServer(t)
	c := dialTest(t, srv.Addr())

	if got := c.roundtrip(t, "MULTI"); got != "+OK" {
		t.Fatalf("MULTI = %q, want +OK", got)
	}
	if got := c.roundtrip(t, "SET counter 41"); got != "+QUEUED" {
		t.Fatalf("queued SET = %q, want +QUEUED", got)
	}
	if got := c.roundtrip(t, "INCR counter"); got != "+QUEUED" {
		t.Fatalf("queued INCR = %q, want +QUEUED", got)
	}
	if got := c.roundtrip(t, "EXEC"); got != "+OK :42" {
		t.Errorf("EXEC = %q, want %q", got, "+OK :42")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Addr: "127.0.0.1:9221", RaftAddr: "127.0.0.1:9222", DataDir: "data"}, false},
		{"missing addr", Config{RaftAddr: "127.0.0.1:9222", DataDir: "data"}, true},
		{"missing raft addr", Config{Addr: "127.0.0.1:9221", DataDir: "data"}, true},
		{"same addr", Config{Addr: "127.0.0.1:9221", RaftAddr: "127.0.0.1:9221", DataDir: "data"}, true},
		{"missing data dir", Config{Addr: "127.0.0.1:9221", RaftAddr: "127.0.0.1:9222"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Addr: "127.0.0.1:9221", RaftAddr: "127.0.0.1:9222", DataDir: "data"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Databases != 16 {
		t.Errorf("Databases = %d, want 16", cfg.Databases)
	}
	if cfg.TimeoutSecond != 5 {
		t.Errorf("TimeoutSecond = %d, want 5", cfg.TimeoutSecond)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}
