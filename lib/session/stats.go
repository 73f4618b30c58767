package session

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// CommandStatistics accumulates count and cumulative execution time for one
// command name. Both fields are per-entry atomics: worker threads update
// them while the introspection path reads them, without a coarse lock.
type CommandStatistics struct {
	Count         atomic.Uint64
	TimeConsuming atomic.Uint64 // microseconds
}

// CommandStats maps full command names ("get", "config|set") to their
// statistics.
type CommandStats struct {
	m *xsync.MapOf[string, *CommandStatistics]
}

// NewCommandStats creates an empty statistics table.
func NewCommandStats() *CommandStats {
	return &CommandStats{m: xsync.NewMapOf[string, *CommandStatistics]()}
}

// Record adds one execution of name taking d.
//
// Thread-safety: safe for concurrent use.
func (s *CommandStats) Record(name string, d time.Duration) {
	stat, _ := s.m.LoadOrCompute(name, func() *CommandStatistics {
		return &CommandStatistics{}
	})
	stat.Count.Add(1)
	stat.TimeConsuming.Add(uint64(d.Microseconds()))
}

// Get returns the statistics entry for name, if any.
func (s *CommandStats) Get(name string) (*CommandStatistics, bool) {
	return s.m.Load(name)
}

// Range iterates over all entries. The snapshot of each counter pair is
// weakly consistent, which is fine for introspection.
func (s *CommandStats) Range(fn func(name string, count, micros uint64) bool) {
	s.m.Range(func(name string, stat *CommandStatistics) bool {
		return fn(name, stat.Count.Load(), stat.TimeConsuming.Load())
	})
}
