package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the rKV server",
		Long:    `Start the rKV server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is RKV_<flag> (e.g. RKV_REPLICAOF="localhost 6379")`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	key := "bind"
	ServeCmd.PersistentFlags().String(key, defaults.BindAddress, cmdUtil.WrapString("The address on which the server listens"))

	key = "port"
	ServeCmd.PersistentFlags().Int(key, defaults.Port, cmdUtil.WrapString("The tcp port on which the server listens"))

	key = "unix-socket"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional path of an additional unix socket listener (e.g. /tmp/rkv.sock)"))

	key = "dir"
	ServeCmd.PersistentFlags().String(key, defaults.Dir, cmdUtil.WrapString("Directory of the snapshot file"))

	key = "dbfilename"
	ServeCmd.PersistentFlags().String(key, defaults.DBFilename, cmdUtil.WrapString("Name of the snapshot file. It is loaded at startup if present"))

	key = "replicaof"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Run as follower of the given leader (\"host port\"). Leave empty to run as leader"))

	key = "replication-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Fixed 40 character hex replication id of a leader. A random id is generated if empty"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, defaults.TimeoutSecond, cmdUtil.WrapString("Write timeout in seconds for client connections (0 disables it)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, defaults.TCPNoDelay, cmdUtil.WrapString("Whether to enable TCP_NODELAY on accepted connections"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, defaults.TCPKeepAliveSec, cmdUtil.WrapString("The keepalive interval for accepted connections (in seconds, 0 disables it)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus metrics endpoint (e.g. localhost:9121). Disabled if empty"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.BindAddress = viper.GetString("bind")
	serveCmdConfig.Port = viper.GetInt("port")
	serveCmdConfig.UnixSocket = viper.GetString("unix-socket")
	serveCmdConfig.Dir = viper.GetString("dir")
	serveCmdConfig.DBFilename = viper.GetString("dbfilename")
	serveCmdConfig.ReplicaOf = viper.GetString("replicaof")
	serveCmdConfig.ReplicationID = viper.GetString("replication-id")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return serveCmdConfig.Validate()
}

// run starts the server and blocks until SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	serv, err := server.NewServer(serveCmdConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// usage errors are reported by PreRunE, runtime errors need no usage text
	cmd.SilenceUsage = true
	return serv.Serve(ctx)
}
