package base

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/cenkalti/backoff/v5"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(ctx context.Context, endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// clientTransport implements dialing with retries independent of the transport medium
type clientTransport struct {
	connector IClientConnector
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) GetName() string {
	return t.connector.GetName()
}

func (t *clientTransport) Dial(ctx context.Context, config common.ClientConfig) (net.Conn, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint provided")
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	maxTries := uint(1)
	if config.RetryCount > 1 {
		maxTries = uint(config.RetryCount)
	}

	// exponential backoff with jitter between attempts
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 50 * time.Millisecond
	expBackoff.MaxInterval = 2 * time.Second

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		attempt++
		conn, err := t.connector.Connect(ctx, config.Endpoint, timeout)
		if err != nil {
			return nil, err
		}
		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			conn.Close()
			return nil, backoff.Permanent(fmt.Errorf("failed to upgrade connection to %s: %w", config.Endpoint, err))
		}
		return conn, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			Logger.Debugf("Connect attempt %d/%d to %s failed: %v; retrying in %s", attempt, maxTries, config.Endpoint, err, next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", config.Endpoint, attempt, err)
	}

	Logger.Debugf("Connected to %s using %s transport", config.Endpoint, t.connector.GetName())
	return conn, nil
}
