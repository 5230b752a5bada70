package ovsdb

import "time"

// ConnectionType records who initiated the TCP session.
type ConnectionType string

const (
	Active  ConnectionType = "active"
	Passive ConnectionType = "passive"
)

// SocketConnectionType governs worker-thread naming conventions only; it
// has no bearing on whether TLS is actually used (that's decided by the
// *tls.Config passed to Connect).
type SocketConnectionType string

const (
	SSL    SocketConnectionType = "ssl"
	NonSSL SocketConnectionType = "non_ssl"
)

// defaultInTransitExpiry is the default window (spec §3: "30-60s range")
// after which an IN_TRANSIT DeviceData is considered stale.
const defaultInTransitExpiry = 30 * time.Second

// NoMonitorTimeout disables the monitor/monitor_cancel deadline.
const NoMonitorTimeout time.Duration = 0

// clientConfig holds the options a Client is constructed with.
type clientConfig struct {
	connectionType       ConnectionType
	socketConnectionType SocketConnectionType
	inTransitExpiry       time.Duration
	monitorDefaultTimeout time.Duration
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		connectionType:        Active,
		socketConnectionType:  NonSSL,
		inTransitExpiry:       defaultInTransitExpiry,
		monitorDefaultTimeout: NoMonitorTimeout,
	}
}

// ClientOption configures a Client at construction time.
type ClientOption func(*clientConfig)

// WithConnectionType records whether this process initiated the connection.
func WithConnectionType(t ConnectionType) ClientOption {
	return func(c *clientConfig) { c.connectionType = t }
}

// WithSocketConnectionType records the transport's naming convention (SSL
// vs non-SSL); it does not itself configure TLS.
func WithSocketConnectionType(t SocketConnectionType) ClientOption {
	return func(c *clientConfig) { c.socketConnectionType = t }
}

// WithInTransitExpiry overrides how long a row may sit IN_TRANSIT before
// isIntransitTimeExpired() considers it stale.
func WithInTransitExpiry(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.inTransitExpiry = d }
}

// WithMonitorDefaultTimeout sets the default timeout applied to monitor and
// monitor_cancel calls that don't specify their own.
func WithMonitorDefaultTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.monitorDefaultTimeout = d }
}
