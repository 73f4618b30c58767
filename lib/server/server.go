package server

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/IamJingZhang/pikiwidb/lib/cmds"
	"github.com/IamJingZhang/pikiwidb/lib/raft"
	"github.com/IamJingZhang/pikiwidb/lib/resp"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
	"github.com/IamJingZhang/pikiwidb/lib/store"
)

var log = logger.GetLogger("server")

// Server is one assembled node.
type Server struct {
	cfg      Config
	registry *session.Registry
	engine   store.Engine
	raftEng  raft.Engine
	joiner   *raft.Coordinator
	disp     *cmds.Dispatcher
	sched    *sched.Scheduler
	notifier *sched.Notifier

	listener net.Listener
	closed   atomic.Bool

	connections *metrics.Counter
}

// NewServer wires up a node from its configuration. The returned server is
// not yet listening; call Serve.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		registry:    session.NewRegistry(),
		connections: metrics.GetOrCreateCounter(`server_connections_total`),
	}

	s.engine = store.NewMemoryEngine(&store.Options{
		Databases: cfg.Databases,
		OnWrite:   s.onWrite,
	})

	s.raftEng = raft.NewEngine(cfg.ToRaftConfig(), s.engine, raft.Hooks{
		OnLeaderStart: func() { log.Infof("assumed group leadership") },
		OnLeaderStop:  func() { log.Infof("lost group leadership") },
		OnConfigurationCommitted: func(addr string, added bool) {
			if added {
				log.Infof("membership change committed: added %s", addr)
			} else {
				log.Infof("membership change committed: removed %s", addr)
			}
		},
		OnSnapshotSave: func() { log.Infof("snapshot saved") },
		OnSnapshotLoad: func() { log.Infof("snapshot restored") },
		OnError:        func(err error) { log.Errorf("async apply failed: %v", err) },
	})
	s.joiner = raft.NewCoordinator(s.raftEng, cfg.RaftAddr, cfg.Timeout())

	s.disp = cmds.NewDispatcher(cmds.Deps{
		Registry:  s.registry,
		Store:     s.engine,
		Raft:      s.raftEng,
		Joiner:    s.joiner,
		Password:  cfg.Password,
		Databases: cfg.Databases,
		Version:   cfg.Version,
		StartTime: time.Now(),
	})
	s.sched = sched.NewScheduler(cfg.ToSchedConfig(), cmds.Classify, s.disp)
	s.notifier = sched.NewNotifier(s.sched)
	s.disp.Bind(s.sched, s.notifier)

	metrics.GetOrCreateGauge(`server_connected_clients`, func() float64 {
		return float64(s.registry.Count())
	})

	return s, nil
}

// onWrite is the store's key-write hook. It fires for local and replicated
// writes alike, since committed commands apply through the same engine.
func (s *Server) onWrite(db int, key string) {
	s.registry.NotifyDirty(db, key)
	if s.notifier != nil {
		s.notifier.NotifyWrite(db, key)
	}
}

// Listen binds the client-facing socket without accepting yet. Split from
// Serve so callers can learn the bound address when listening on port 0.
func (s *Server) Listen() error {
	InitLoggers(s.cfg)
	log.Infof("starting node")
	log.Infof(s.cfg.String())

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound client-facing address. Empty before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve starts the worker pool, the notifier and the accept loop. It blocks
// until Shutdown closes the listener.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.sched.Start()
	s.notifier.Start()
	if s.cfg.MetricsAddr != "" {
		s.serveMetrics()
	}

	log.Infof("serving clients on %s", s.listener.Addr())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			log.Errorf("accept error: %v", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Shutdown closes the listener and stops the pipeline. Live connections
// observe the closed listener only indirectly: their read loops end when
// the peer disconnects or their socket is torn down by process exit.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.sched.Stop()
	s.notifier.Stop()
	if err := s.raftEng.Shutdown(); err != nil {
		log.Errorf("failed to shut down consensus engine: %v", err)
	}
	log.Infof("server stopped")
}

// handleConn owns one client connection: it creates the session, feeds
// parsed commands into the scheduler and tears everything down when the
// read loop ends.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.connections.Inc()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	sess := s.registry.Create(conn, conn.RemoteAddr().String())
	log.Debugf("session %d connected from %s", sess.ID(), sess.PeerAddr())
	defer func() {
		s.registry.Close(sess.ID())
		s.sched.Drop(sess.ID())
		s.notifier.Drop(sess.ID())
		log.Debugf("session %d disconnected", sess.ID())
	}()

	parser := resp.NewParser(conn)
	for {
		argv, err := parser.ReadCommand()
		if err != nil {
			if err != io.EOF {
				log.Debugf("session %d read failed: %v", sess.ID(), err)
			}
			return
		}
		if len(argv) == 0 {
			continue
		}
		if !s.sched.Submit(sched.NewTask(sess.ID(), argv)) {
			return
		}
	}
}

// serveMetrics exposes the process metrics in Prometheus text format.
func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	go func() {
		log.Infof("serving metrics on %s/metrics", s.cfg.MetricsAddr)
		if err := http.ListenAndServe(s.cfg.MetricsAddr, mux); err != nil {
			log.Errorf("metrics endpoint failed: %v", err)
		}
	}()
}
