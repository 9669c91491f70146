package util

import (
	"strings"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by viper
	EnvPrefix = "rkv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read RKV_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// SetupClientFlags adds the connection flags shared by all client commands
func SetupClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("Address of the rKV server (host:port, or a socket path for the unix transport)"))

	key = "transport"
	cmd.PersistentFlags().String(key, "tcp", WrapString("Transport to use (tcp, unix)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Timeout in seconds for connecting and for each reply"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry connecting"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		Endpoint:      viper.GetString("endpoint"),
		Transport:     viper.GetString("transport"),
		TimeoutSecond: viper.GetInt("timeout"),
		RetryCount:    viper.GetInt("retries"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
