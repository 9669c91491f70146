package cli

import (
	"context"
	"time"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.Client

	// ClientCommands represents the client command group
	ClientCommands = &cobra.Command{
		Use:                "cli",
		Short:              "Send commands to an rKV server",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupClientFlags(ClientCommands)

	ClientCommands.AddCommand(pingCmd)
	ClientCommands.AddCommand(setCmd)
	ClientCommands.AddCommand(getCmd)
	ClientCommands.AddCommand(incrCmd)
	ClientCommands.AddCommand(keysCmd)
	ClientCommands.AddCommand(typeCmd)
	ClientCommands.AddCommand(xaddCmd)
	ClientCommands.AddCommand(xrangeCmd)
	ClientCommands.AddCommand(infoCmd)
	ClientCommands.AddCommand(rawCmd)
	ClientCommands.AddCommand(perfTestCmd)
}

// setupClient connects to the configured server
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// perf opens its own connections
	if cmd == perfTestCmd {
		return nil
	}

	config := util.GetClientConfig()
	ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout(config.TimeoutSecond, config.RetryCount))
	defer cancel()

	var err error
	rpcClient, err = client.Dial(ctx, config)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// dialTimeout bounds the whole connect phase including retries
func dialTimeout(timeoutSec, retries int) time.Duration {
	return time.Duration(timeoutSec*max(retries, 1)) * time.Second
}
