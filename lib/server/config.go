package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/IamJingZhang/pikiwidb/lib/raft"
	"github.com/IamJingZhang/pikiwidb/lib/sched"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// Config holds all configuration parameters for one node. It is passed
// explicitly at construction; nothing in the server reads globals.
type Config struct {
	// Addr is the client-facing listen address (e.g. 0.0.0.0:9221).
	Addr string
	// Password enables AUTH when non-empty.
	Password string
	// Databases is the number of numbered databases SELECT accepts.
	Databases int

	// Worker pool sizing
	FastWorkers int
	SlowWorkers int

	// Replication parameters
	RaftAddr           string
	DataDir            string
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64

	// TimeoutSecond bounds proposals, membership changes and the join
	// handshake, plus per-connection socket deadlines when > 0.
	TimeoutSecond int64

	// MetricsAddr, when non-empty, serves Prometheus metrics over HTTP.
	MetricsAddr string

	// Logging configuration
	LogLevel string

	Version string
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.RaftAddr == "" {
		return fmt.Errorf("raft address is required")
	}
	if c.RaftAddr == c.Addr {
		return fmt.Errorf("raft address must differ from the client listen address")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Databases <= 0 {
		c.Databases = 16
	}
	if c.TimeoutSecond <= 0 {
		c.TimeoutSecond = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// Timeout returns the configured operation timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ToRaftConfig converts the server configuration to the consensus engine's.
func (c *Config) ToRaftConfig() raft.Config {
	return raft.Config{
		RaftAddr:           c.RaftAddr,
		DataDir:            c.DataDir,
		RTTMillisecond:     c.RTTMillisecond,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		Timeout:            c.Timeout(),
	}
}

// ToSchedConfig converts the server configuration to the scheduler's.
func (c *Config) ToSchedConfig() sched.Config {
	cfg := sched.DefaultConfig()
	if c.FastWorkers > 0 {
		cfg.FastWorkers = c.FastWorkers
	}
	if c.SlowWorkers > 0 {
		cfg.SlowWorkers = c.SlowWorkers
	}
	return cfg
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Listen Address", c.Addr)
	addField("Databases", fmt.Sprintf("%d", c.Databases))
	addField("Auth", fmt.Sprintf("%t", c.Password != ""))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Workers")
	fast, slow := c.FastWorkers, c.SlowWorkers
	if fast <= 0 {
		fast = sched.DefaultConfig().FastWorkers
	}
	if slow <= 0 {
		slow = sched.DefaultConfig().SlowWorkers
	}
	addField("Fast Workers", fmt.Sprintf("%d", fast))
	addField("Slow Workers", fmt.Sprintf("%d", slow))

	addSection("Replication")
	addField("Raft Address", c.RaftAddr)
	addField("Data Dir", c.DataDir)
	addField("RTT", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

	addSection("Observability")
	if c.MetricsAddr != "" {
		addField("Metrics Address", c.MetricsAddr)
	} else {
		addField("Metrics Address", "disabled")
	}
	addField("Log Level", c.LogLevel)

	return sb.String()
}
