package common

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/util"
)

// Version of the rKV server, reported by INFO server and the version command
const Version = "0.3.0"

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a server process.
type ServerConfig struct {
	// Listener settings
	BindAddress string
	Port        int
	UnixSocket  string // optional additional unix socket listener

	// Snapshot settings (reported by CONFIG GET, read at startup)
	Dir        string
	DBFilename string

	// Replication settings. A non-empty ReplicaOf puts the process in follower role.
	ReplicaOf     string
	ReplicationID string

	// Connection settings
	TimeoutSecond   int64
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Prometheus endpoint, disabled if empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns the configuration used when no flags are given
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BindAddress:     "0.0.0.0",
		Port:            6379,
		Dir:             ".",
		DBFilename:      "dump.rdb",
		TimeoutSecond:   5,
		TCPNoDelay:      true,
		TCPKeepAliveSec: 30,
		LogLevel:        "info",
	}
}

// IsFollower reports whether the server replicates from a leader
func (c *ServerConfig) IsFollower() bool {
	return strings.TrimSpace(c.ReplicaOf) != ""
}

// LeaderAddress returns the leader as host and port. ReplicaOf may be given
// as "host port" or as "host:port".
func (c *ServerConfig) LeaderAddress() (host string, port int, err error) {
	value := strings.TrimSpace(c.ReplicaOf)
	var portStr string
	if fields := strings.Fields(value); len(fields) == 2 {
		host, portStr = fields[0], fields[1]
	} else if h, p, splitErr := net.SplitHostPort(value); splitErr == nil {
		host, portStr = h, p
	} else {
		return "", 0, fmt.Errorf("invalid leader address %q, expected \"host port\"", c.ReplicaOf)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid leader port %q", portStr)
	}
	return host, port, nil
}

// Timeout returns the write deadline applied to client connections, zero disables it
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// SnapshotPath returns the path of the snapshot file
func (c *ServerConfig) SnapshotPath() string {
	return filepath.Join(c.Dir, c.DBFilename)
}

// Endpoint returns the tcp listen address
func (c *ServerConfig) Endpoint() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// Validate checks the configuration for errors
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.DBFilename == "" {
		errs = append(errs, errors.New("dbfilename must not be empty"))
	}
	if c.TimeoutSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid timeout %d", c.TimeoutSecond))
	}
	if c.IsFollower() {
		if _, _, err := c.LeaderAddress(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ReplicationID != "" && !util.IsReplicationID(c.ReplicationID) {
		errs = append(errs, fmt.Errorf("replication id must be %d hex characters", util.ReplicationIDLength))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
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
	addField("Endpoint", c.Endpoint())
	if c.UnixSocket != "" {
		addField("Unix Socket", c.UnixSocket)
	}
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("TCP NoDelay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))

	addSection("Snapshot")
	addField("Dir", c.Dir)
	addField("DB Filename", c.DBFilename)

	addSection("Replication")
	if c.IsFollower() {
		addField("Role", "follower")
		addField("Leader", c.ReplicaOf)
	} else {
		addField("Role", "leader")
		if c.ReplicationID != "" {
			addField("Replication ID", c.ReplicationID)
		}
	}

	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoint      string
	Transport     string // tcp or unix
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Transport", c.Transport)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
