package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/IamJingZhang/pikiwidb/cmd/serve"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "pikiwidb",
		Short: "replicated in-memory data store",
		Long: fmt.Sprintf(`pikiwidb (v%s)

A replicated in-memory data store speaking the Redis wire protocol,
leveraging RAFT consensus for linearizable writes and fault tolerance.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pikiwidb",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pikiwidb v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	serve.Version = Version
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
