package cmds

import (
	"strings"

	"github.com/IamJingZhang/pikiwidb/lib/sched"
	"github.com/IamJingZhang/pikiwidb/lib/session"
)

// handlerFunc executes one command against its session. The task is passed
// through so blocking handlers can park and resumed handlers can read their
// wake event.
type handlerFunc func(d *Dispatcher, s *session.Session, argv []string, t *sched.Task)

// command is one entry of the command table.
type command struct {
	name    string
	handler handlerFunc
	// arity follows the redis convention: a positive value is the exact
	// argument count including the command name, a negative value -N means
	// at least N.
	arity int
	tier  sched.Tier
	write bool
	// noMultiQueue commands execute immediately even inside MULTI.
	noMultiQueue bool
	// noAuth commands are allowed before authentication.
	noAuth bool
}

func (c *command) checkArity(n int) bool {
	if c.arity >= 0 {
		return n == c.arity
	}
	return n >= -c.arity
}

// commandTable maps the uppercase command name to its entry. It is
// populated in init because the transaction handlers replay queued commands
// through this very table.
var commandTable map[string]*command

func init() {
	commandTable = map[string]*command{
		// connection and introspection
		"PING":    {name: "ping", handler: pingCmd, arity: -1, tier: sched.TierFast, noAuth: true},
		"ECHO":    {name: "echo", handler: echoCmd, arity: 2, tier: sched.TierFast},
		"AUTH":    {name: "auth", handler: authCmd, arity: 2, tier: sched.TierFast, noAuth: true, noMultiQueue: true},
		"SELECT":  {name: "select", handler: selectCmd, arity: 2, tier: sched.TierFast},
		"INFO":    {name: "info", handler: infoCmd, arity: -1, tier: sched.TierSlow},
		"CLIENT":  {name: "client", handler: clientCmd, arity: -2, tier: sched.TierFast},
		"COMMAND": {name: "command", handler: commandCmd, arity: -1, tier: sched.TierSlow},
		"CONFIG":  {name: "config", handler: configCmd, arity: -2, tier: sched.TierSlow},

		// strings
		"GET":    {name: "get", handler: getCmd, arity: 2, tier: sched.TierFast},
		"SET":    {name: "set", handler: setCmd, arity: 3, tier: sched.TierFast, write: true},
		"DEL":    {name: "del", handler: delCmd, arity: -2, tier: sched.TierFast, write: true},
		"EXISTS": {name: "exists", handler: existsCmd, arity: -2, tier: sched.TierFast},
		"INCR":   {name: "incr", handler: incrByCmd, arity: 2, tier: sched.TierFast, write: true},
		"DECR":   {name: "decr", handler: incrByCmd, arity: 2, tier: sched.TierFast, write: true},
		"INCRBY": {name: "incrby", handler: incrByCmd, arity: 3, tier: sched.TierFast, write: true},
		"DECRBY": {name: "decrby", handler: incrByCmd, arity: 3, tier: sched.TierFast, write: true},

		// lists
		"LPUSH": {name: "lpush", handler: pushCmd, arity: -3, tier: sched.TierSlow, write: true},
		"RPUSH": {name: "rpush", handler: pushCmd, arity: -3, tier: sched.TierSlow, write: true},
		"LPOP":  {name: "lpop", handler: popCmd, arity: 2, tier: sched.TierSlow, write: true},
		"RPOP":  {name: "rpop", handler: popCmd, arity: 2, tier: sched.TierSlow, write: true},
		"LLEN":  {name: "llen", handler: llenCmd, arity: 2, tier: sched.TierFast},
		"BLPOP": {name: "blpop", handler: blpopCmd, arity: 3, tier: sched.TierSlow, write: true},

		// blocking value wait
		"WAITFOR": {name: "waitfor", handler: waitForCmd, arity: -3, tier: sched.TierSlow},

		// database maintenance
		"FLUSHDB": {name: "flushdb", handler: flushDBCmd, arity: 1, tier: sched.TierSlow, write: true},

		// transactions
		"MULTI":   {name: "multi", handler: multiCmd, arity: 1, tier: sched.TierFast, noMultiQueue: true},
		"EXEC":    {name: "exec", handler: execCmd, arity: 1, tier: sched.TierSlow, noMultiQueue: true},
		"DISCARD": {name: "discard", handler: discardCmd, arity: 1, tier: sched.TierFast, noMultiQueue: true},
		"WATCH":   {name: "watch", handler: watchCmd, arity: -2, tier: sched.TierFast, noMultiQueue: true},
		"UNWATCH": {name: "unwatch", handler: unwatchCmd, arity: 1, tier: sched.TierFast, noMultiQueue: true},

		// pub/sub
		"SUBSCRIBE":    {name: "subscribe", handler: subscribeCmd, arity: -2, tier: sched.TierFast},
		"UNSUBSCRIBE":  {name: "unsubscribe", handler: unsubscribeCmd, arity: -1, tier: sched.TierFast},
		"PSUBSCRIBE":   {name: "psubscribe", handler: psubscribeCmd, arity: -2, tier: sched.TierFast},
		"PUNSUBSCRIBE": {name: "punsubscribe", handler: punsubscribeCmd, arity: -1, tier: sched.TierFast},
		"PUBLISH":      {name: "publish", handler: publishCmd, arity: 3, tier: sched.TierSlow},

		// cluster membership
		"RAFT.CLUSTER": {name: "raft.cluster", handler: raftClusterCmd, arity: -2, tier: sched.TierSlow},
		"RAFT.NODE":    {name: "raft.node", handler: raftNodeCmd, arity: -3, tier: sched.TierSlow},
	}
}

// lookup resolves a command by name, case-insensitively.
func lookup(name string) (*command, bool) {
	c, ok := commandTable[strings.ToUpper(name)]
	return c, ok
}

// Classify resolves a command name to its latency tier; the scheduler's
// classifier.
func Classify(name string) (sched.Tier, bool) {
	c, ok := lookup(name)
	if !ok {
		return sched.TierSlow, false
	}
	return c.tier, true
}
