package serve

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/IamJingZhang/pikiwidb/cmd/util"
	"github.com/IamJingZhang/pikiwidb/lib/server"
)

// Version is stamped by the root command before execution.
var Version = "dev"

var (
	serveCmdConfig = &server.Config{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a pikiwidb node",
		Long:    `Start a pikiwidb node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is PIKIWIDB_<flag> (e.g. PIKIWIDB_ADDR=0.0.0.0:9221)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "addr"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9221", cmdUtil.WrapString("The address on which clients connect"))

	key = "raft-addr"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9222", cmdUtil.WrapString("The address peers use to reach this node's replication transport. Must differ from the client address"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory for replication logs, metadata and snapshots. Each replication group gets its own subdirectory"))

	key = "databases"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of numbered databases SELECT accepts"))

	key = "password"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("When set, clients must AUTH before running commands"))

	key = "fast-workers"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Number of workers serving the fast command queue"))

	key = "slow-workers"
	ServeCmd.PersistentFlags().Int(key, 2, cmdUtil.WrapString("Number of workers serving the slow command queue"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two nodes. Other raft configuration parameters (ElectionRTT, HeartbeatRTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Uint64(key, 10000, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically, in terms of applied log entries. 0 disables automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Uint64(key, 5000, cmdUtil.WrapString("CompactionOverhead defines the number of applied entries kept after log compaction. Recommended value is about 1/2 of SnapshotEntries"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for proposals, membership changes and the join handshake"))

	key = "metrics-addr"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("When set, Prometheus metrics are served over HTTP on this address (e.g. 0.0.0.0:9121)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Addr = viper.GetString("addr")
	serveCmdConfig.RaftAddr = viper.GetString("raft-addr")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.Databases = viper.GetInt("databases")
	serveCmdConfig.Password = viper.GetString("password")
	serveCmdConfig.FastWorkers = viper.GetInt("fast-workers")
	serveCmdConfig.SlowWorkers = viper.GetInt("slow-workers")
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsAddr = viper.GetString("metrics-addr")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Version = Version

	return serveCmdConfig.Validate()
}

// run starts the node and blocks until it is shut down
func run(_ *cobra.Command, _ []string) error {
	srv, err := server.NewServer(*serveCmdConfig)
	if err != nil {
		return err
	}

	// shut down cleanly on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		srv.Shutdown()
	}()

	return srv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("pikiwidb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
