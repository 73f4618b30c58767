package session

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IamJingZhang/pikiwidb/lib/resp"
)

// --------------------------------------------------------------------------
// Flags and State
// --------------------------------------------------------------------------

// Flag bits describe transient command-pipeline conditions on a session.
type Flag uint32

const (
	// FlagMulti is set between MULTI and EXEC/DISCARD.
	FlagMulti Flag = 1 << iota
	// FlagDirty marks that a watched key was mutated since it was watched.
	FlagDirty
	// FlagWrongExec marks that a command failed validation while queueing;
	// it is only ever set while FlagMulti is on.
	FlagWrongExec
)

// State is the lifecycle state of a session.
type State int32

const (
	StateOK State = iota
	StateClosed
)

// Exec outcome sentinels.
var (
	// ErrExecWrong aborts a transaction whose queue contains an invalid command.
	ErrExecWrong = errors.New("transaction contains invalid commands")
	// ErrExecDirty aborts a transaction whose watched keys were mutated.
	ErrExecDirty = errors.New("watched key changed before exec")
	// ErrAlreadyBlocked rejects a second blocking wait on a blocked session.
	ErrAlreadyBlocked = errors.New("session is already blocked on a key")
)

// --------------------------------------------------------------------------
// Time accounting
// --------------------------------------------------------------------------

// TimeStat tracks the lifecycle timestamps of the in-flight invocation.
type TimeStat struct {
	EnqueueTs time.Time
	DequeueTs time.Time
	DoneTs    time.Time
}

// Reset clears all timestamps.
func (t *TimeStat) Reset() {
	t.EnqueueTs = time.Time{}
	t.DequeueTs = time.Time{}
	t.DoneTs = time.Time{}
}

// Total returns the time from enqueue to completion, or zero if the
// invocation has not completed.
func (t *TimeStat) Total() time.Duration {
	if t.DoneTs.After(t.EnqueueTs) {
		return t.DoneTs.Sub(t.EnqueueTs)
	}
	return 0
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is the per-connection client state. See the package documentation
// for the ownership and concurrency rules.
type Session struct {
	id       uint64
	peerAddr string
	reg      *Registry

	conn   io.Writer
	sendMu sync.Mutex // serializes writes to conn (pub/sub pushes come from foreign workers)

	state atomic.Int32
	flags atomic.Uint32

	dbIndex    int
	name       string
	cmdName    string
	subCmdName string

	// setMu guards watchKeys, channels, patterns and the blocking-wait
	// state. Workers mutate them while executing commands and the transport
	// goroutine tears them down in Registry.Close, so plain owner-thread
	// access is not enough for these.
	setMu     sync.Mutex
	watchKeys map[int]map[string]struct{}
	queued    [][]string

	channels map[string]struct{}
	patterns map[string]struct{}

	waitingKeys   map[string]struct{}
	waitTarget    []byte
	hasWaitTarget bool

	auth     bool
	lastAuth time.Time

	// Reply accumulates the pending response for the in-flight invocation.
	Reply resp.Reply
	// Time tracks the in-flight invocation's lifecycle timestamps.
	Time TimeStat

	stats *CommandStats
}

func newSession(id uint64, conn io.Writer, peerAddr string, reg *Registry) *Session {
	return &Session{
		id:          id,
		peerAddr:    peerAddr,
		reg:         reg,
		conn:        conn,
		watchKeys:   make(map[int]map[string]struct{}),
		channels:    make(map[string]struct{}),
		patterns:    make(map[string]struct{}),
		waitingKeys: make(map[string]struct{}),
		stats:       NewCommandStats(),
	}
}

// ID returns the stable session id.
func (s *Session) ID() uint64 { return s.id }

// PeerAddr returns the remote address the session was accepted from.
func (s *Session) PeerAddr() string { return s.peerAddr }

// State returns the lifecycle state. Safe to call from any thread.
func (s *Session) State() State { return State(s.state.Load()) }

// SetState transitions the lifecycle state. Safe to call from any thread.
func (s *Session) SetState(st State) { s.state.Store(int32(st)) }

// SetCurrentDB selects the database index for subsequent commands.
func (s *Session) SetCurrentDB(db int) { s.dbIndex = db }

// CurrentDB returns the selected database index.
func (s *Session) CurrentDB() int { return s.dbIndex }

// SetName sets the client-assigned connection name.
func (s *Session) SetName(name string) { s.name = name }

// Name returns the client-assigned connection name.
func (s *Session) Name() string { return s.name }

// SetCmdName records the command name of the invocation bound to this session.
func (s *Session) SetCmdName(name string) { s.cmdName = name }

// CmdName returns the command name of the bound invocation.
func (s *Session) CmdName() string { return s.cmdName }

// SetSubCmdName records the sub-command name (e.g. "get" for CONFIG GET).
func (s *Session) SetSubCmdName(name string) { s.subCmdName = name }

// FullCmdName returns "cmd" or "cmd|subcmd", the key used for statistics.
func (s *Session) FullCmdName() string {
	if s.subCmdName == "" {
		return s.cmdName
	}
	return s.cmdName + "|" + s.subCmdName
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetFlag raises a flag bit. Safe to call from any thread.
func (s *Session) SetFlag(f Flag) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearFlag lowers a flag bit. Safe to call from any thread.
func (s *Session) ClearFlag(f Flag) {
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// IsFlagOn reports whether a flag bit is raised.
func (s *Session) IsFlagOn(f Flag) bool { return s.flags.Load()&uint32(f) != 0 }

// FlagExecWrong poisons the transaction being queued. It is a no-op outside
// MULTI, preserving the invariant that WrongExec implies Multi.
func (s *Session) FlagExecWrong() {
	if s.IsFlagOn(FlagMulti) {
		s.SetFlag(FlagWrongExec)
	}
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// BeginMulti enters transaction mode. Returns false if already in MULTI.
func (s *Session) BeginMulti() bool {
	if s.IsFlagOn(FlagMulti) {
		return false
	}
	s.SetFlag(FlagMulti)
	return true
}

// QueueCommand appends an argument vector to the transaction queue.
func (s *Session) QueueCommand(argv []string) {
	s.queued = append(s.queued, argv)
}

// QueuedCount returns the number of queued commands.
func (s *Session) QueuedCount() int { return len(s.queued) }

// Discard drops the transaction and all watch state. Returns false if the
// session was not in MULTI.
func (s *Session) Discard() bool {
	if !s.IsFlagOn(FlagMulti) {
		return false
	}
	s.ClearMulti()
	s.ClearWatch()
	return true
}

// ClearMulti resets transaction flags and the queued command buffer.
func (s *Session) ClearMulti() {
	s.ClearFlag(FlagMulti)
	s.ClearFlag(FlagWrongExec)
	s.ClearFlag(FlagDirty)
	s.queued = nil
}

// Exec runs the queued transaction, invoking run once per queued command in
// original order. The caller is expected to have appended the aggregate
// array header before the replay, via the returned count.
//
// On ErrExecWrong or ErrExecDirty no queued command is executed. In every
// case transaction and watch state are cleared afterwards.
func (s *Session) Exec(run func(argv []string)) (int, error) {
	defer func() {
		s.ClearMulti()
		s.ClearWatch()
	}()
	if s.IsFlagOn(FlagWrongExec) {
		return 0, ErrExecWrong
	}
	if s.IsFlagOn(FlagDirty) {
		return 0, ErrExecDirty
	}
	n := len(s.queued)
	for _, argv := range s.queued {
		run(argv)
	}
	return n, nil
}

// Watch registers a key in the given database for this session.
func (s *Session) Watch(db int, key string) bool {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	keys, ok := s.watchKeys[db]
	if !ok {
		keys = make(map[string]struct{})
		s.watchKeys[db] = keys
	}
	if _, dup := keys[key]; dup {
		return false
	}
	keys[key] = struct{}{}
	s.reg.addWatcher(s.id, db, key)
	return true
}

// ClearWatch unregisters every watched key and lowers the dirty flag.
func (s *Session) ClearWatch() {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	for db, keys := range s.watchKeys {
		for key := range keys {
			s.reg.removeWatcher(s.id, db, key)
		}
	}
	s.watchKeys = make(map[int]map[string]struct{})
	s.ClearFlag(FlagDirty)
}

// --------------------------------------------------------------------------
// Pub/Sub membership
// --------------------------------------------------------------------------

// Subscribe inserts a channel. Returns 1 if membership changed, 0 if the
// channel was already subscribed.
func (s *Session) Subscribe(channel string) int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	if _, ok := s.channels[channel]; ok {
		return 0
	}
	s.channels[channel] = struct{}{}
	s.reg.addChannel(s.id, channel)
	return 1
}

// UnSubscribe erases a channel. Returns 1 if membership changed.
func (s *Session) UnSubscribe(channel string) int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	if _, ok := s.channels[channel]; !ok {
		return 0
	}
	delete(s.channels, channel)
	s.reg.removeChannel(s.id, channel)
	return 1
}

// PSubscribe inserts a pattern. Returns 1 if membership changed.
func (s *Session) PSubscribe(pattern string) int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	if _, ok := s.patterns[pattern]; ok {
		return 0
	}
	s.patterns[pattern] = struct{}{}
	s.reg.addPattern(s.id, pattern)
	return 1
}

// PUnSubscribe erases a pattern. Returns 1 if membership changed.
func (s *Session) PUnSubscribe(pattern string) int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	if _, ok := s.patterns[pattern]; !ok {
		return 0
	}
	delete(s.patterns, pattern)
	s.reg.removePattern(s.id, pattern)
	return 1
}

// ChannelCount returns the number of subscribed channels.
func (s *Session) ChannelCount() int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return len(s.channels)
}

// PatternChannelCount returns the number of subscribed patterns.
func (s *Session) PatternChannelCount() int {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return len(s.patterns)
}

// Channels returns a snapshot of the subscribed channel set.
func (s *Session) Channels() map[string]struct{} {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return copySet(s.channels)
}

// Patterns returns a snapshot of the subscribed pattern set.
func (s *Session) Patterns() map[string]struct{} {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return copySet(s.patterns)
}

func copySet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}

// dropSubscriptions empties both subscription sets and returns what was
// removed, so the registry can purge its indexes during teardown.
func (s *Session) dropSubscriptions() (channels, patterns []string) {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	for p := range s.patterns {
		patterns = append(patterns, p)
	}
	s.channels = make(map[string]struct{})
	s.patterns = make(map[string]struct{})
	return channels, patterns
}

// --------------------------------------------------------------------------
// Blocking wait
// --------------------------------------------------------------------------

// WaitFor registers this session as blocked on key, optionally only
// satisfied when the key's value equals target. Blocking is exclusive: a
// session cannot queue further work until the wait resolves or times out.
func (s *Session) WaitFor(key string, target []byte) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	if len(s.waitingKeys) > 0 {
		return ErrAlreadyBlocked
	}
	s.waitingKeys[key] = struct{}{}
	if target != nil {
		s.waitTarget = append([]byte(nil), target...)
		s.hasWaitTarget = true
	}
	return nil
}

// WaitingKeys returns a snapshot of the keys this session is blocked on.
func (s *Session) WaitingKeys() map[string]struct{} {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return copySet(s.waitingKeys)
}

// WaitTarget returns the expected value, if one was set.
func (s *Session) WaitTarget() ([]byte, bool) {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	return s.waitTarget, s.hasWaitTarget
}

// ClearWaitingKeys resets the blocking-wait state.
func (s *Session) ClearWaitingKeys() {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	s.waitingKeys = make(map[string]struct{})
	s.waitTarget = nil
	s.hasWaitTarget = false
}

// --------------------------------------------------------------------------
// Authentication
// --------------------------------------------------------------------------

// SetAuth marks the session authenticated and records the time.
func (s *Session) SetAuth() {
	s.auth = true
	s.lastAuth = time.Now()
}

// GetAuth reports whether the session has authenticated.
func (s *Session) GetAuth() bool { return s.auth }

// LastAuth returns the time of the last successful authentication.
func (s *Session) LastAuth() time.Time { return s.lastAuth }

// --------------------------------------------------------------------------
// Reply delivery
// --------------------------------------------------------------------------

// SendPacket hands the accumulated reply to the transport and clears it.
// If the session is closed the payload is dropped: late execution of a task
// for a dead connection must not write to it.
func (s *Session) SendPacket() bool {
	payload := append([]byte(nil), s.Reply.Bytes()...)
	s.Reply.Clear()
	if len(payload) == 0 {
		return true
	}
	return s.push(payload)
}

// PushMessage writes an out-of-band payload (pub/sub delivery) to the
// connection. Safe to call from any worker.
func (s *Session) PushMessage(payload []byte) bool {
	return s.push(payload)
}

func (s *Session) push(payload []byte) bool {
	if s.State() == StateClosed || s.conn == nil {
		return false
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.State() == StateClosed {
		return false
	}
	_, err := s.conn.Write(payload)
	return err == nil
}

// Stats returns the per-session command statistics.
func (s *Session) Stats() *CommandStats { return s.stats }
