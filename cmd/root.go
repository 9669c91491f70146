package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/rKV/cmd/cli"
	"github.com/ValentinKolb/rKV/cmd/serve"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/spf13/cobra"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rkv",
		Short: "replicated in-memory key-value server",
		Long: fmt.Sprintf(`rKV (v%s)

An in-memory key-value server speaking RESP, with expiring string
values, append-only streams, MULTI/EXEC transactions and asynchronous
leader/follower replication.`, common.Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rKV v%s\n", common.Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cli.ClientCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
