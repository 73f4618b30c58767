package session

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry is the single owner of live sessions, keyed by stable id. It also
// maintains the reverse index from watched keys to watching sessions so that
// NotifyDirty does not have to scan every session.
type Registry struct {
	sessions *xsync.MapOf[uint64, *Session]
	watchers *xsync.MapOf[string, *watcherSet]
	channels *xsync.MapOf[string, *watcherSet]
	patterns *xsync.MapOf[string, *watcherSet]
	nextID   atomic.Uint64
}

// watcherSet is the set of session ids watching one key. The per-key mutex
// is held only for set membership changes, never while running handlers.
type watcherSet struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: xsync.NewMapOf[uint64, *Session](),
		watchers: xsync.NewMapOf[string, *watcherSet](),
		channels: xsync.NewMapOf[string, *watcherSet](),
		patterns: xsync.NewMapOf[string, *watcherSet](),
	}
}

// Create allocates a new session bound to conn and registers it.
func (r *Registry) Create(conn io.Writer, peerAddr string) *Session {
	id := r.nextID.Add(1)
	s := newSession(id, conn, peerAddr, r)
	r.sessions.Store(id, s)
	return s
}

// Get returns the session with the given id, if it is still alive.
func (r *Registry) Get(id uint64) (*Session, bool) {
	return r.sessions.Load(id)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int { return r.sessions.Size() }

// Range iterates over all live sessions.
func (r *Registry) Range(fn func(s *Session) bool) {
	r.sessions.Range(func(_ uint64, s *Session) bool { return fn(s) })
}

// Close marks the session closed, clears its watch registrations and
// removes it from the registry. Any task still queued for the id will no
// longer find it and must complete as a no-op.
func (r *Registry) Close(id uint64) {
	s, ok := r.sessions.Load(id)
	if !ok {
		return
	}
	s.SetState(StateClosed)
	s.ClearWatch()
	s.ClearWaitingKeys()
	channels, patterns := s.dropSubscriptions()
	for _, ch := range channels {
		removeFromIndex(r.channels, ch, id)
	}
	for _, p := range patterns {
		removeFromIndex(r.patterns, p, id)
	}
	r.sessions.Delete(id)
}

// --------------------------------------------------------------------------
// Watch index
// --------------------------------------------------------------------------

func watchKeyOf(db int, key string) string {
	return strconv.Itoa(db) + "/" + key
}

func addToIndex(m *xsync.MapOf[string, *watcherSet], key string, id uint64) {
	set, _ := m.LoadOrCompute(key, func() *watcherSet {
		return &watcherSet{ids: make(map[uint64]struct{})}
	})
	set.mu.Lock()
	set.ids[id] = struct{}{}
	set.mu.Unlock()
}

func removeFromIndex(m *xsync.MapOf[string, *watcherSet], key string, id uint64) {
	set, ok := m.Load(key)
	if !ok {
		return
	}
	set.mu.Lock()
	delete(set.ids, id)
	empty := len(set.ids) == 0
	set.mu.Unlock()
	if empty {
		m.Delete(key)
	}
}

func (set *watcherSet) snapshot() []uint64 {
	set.mu.Lock()
	ids := make([]uint64, 0, len(set.ids))
	for id := range set.ids {
		ids = append(ids, id)
	}
	set.mu.Unlock()
	return ids
}

func (r *Registry) addWatcher(id uint64, db int, key string) {
	addToIndex(r.watchers, watchKeyOf(db, key), id)
}

func (r *Registry) removeWatcher(id uint64, db int, key string) {
	removeFromIndex(r.watchers, watchKeyOf(db, key), id)
}

// NotifyDirty marks every session watching key in db as dirty. It is a
// cooperative signal raised by whichever component mutates the key; nothing
// is executed here.
//
// Thread-safety: safe to call from any worker.
func (r *Registry) NotifyDirty(db int, key string) {
	set, ok := r.watchers.Load(watchKeyOf(db, key))
	if !ok {
		return
	}
	for _, id := range set.snapshot() {
		if s, ok := r.sessions.Load(id); ok {
			s.SetFlag(FlagDirty)
		}
	}
}

// --------------------------------------------------------------------------
// Pub/sub index
// --------------------------------------------------------------------------

func (r *Registry) addChannel(id uint64, channel string) { addToIndex(r.channels, channel, id) }

func (r *Registry) removeChannel(id uint64, channel string) {
	removeFromIndex(r.channels, channel, id)
}

func (r *Registry) addPattern(id uint64, pattern string) { addToIndex(r.patterns, pattern, id) }

func (r *Registry) removePattern(id uint64, pattern string) {
	removeFromIndex(r.patterns, pattern, id)
}

// Subscribers returns the ids of sessions subscribed to a channel.
//
// Thread-safety: safe to call from any worker; the result is a snapshot.
func (r *Registry) Subscribers(channel string) []uint64 {
	set, ok := r.channels.Load(channel)
	if !ok {
		return nil
	}
	return set.snapshot()
}

// RangePatterns iterates over all subscribed patterns and their session
// ids.
func (r *Registry) RangePatterns(fn func(pattern string, ids []uint64) bool) {
	r.patterns.Range(func(pattern string, set *watcherSet) bool {
		return fn(pattern, set.snapshot())
	})
}
