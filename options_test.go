package ovsdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := defaultClientConfig()
	assert.Equal(t, Active, cfg.connectionType)
	assert.Equal(t, NonSSL, cfg.socketConnectionType)
	assert.Equal(t, defaultInTransitExpiry, cfg.inTransitExpiry)
	assert.Equal(t, NoMonitorTimeout, cfg.monitorDefaultTimeout)
}

func TestClientOptions_Apply(t *testing.T) {
	cfg := defaultClientConfig()
	opts := []ClientOption{
		WithConnectionType(Passive),
		WithSocketConnectionType(SSL),
		WithInTransitExpiry(45 * time.Second),
		WithMonitorDefaultTimeout(10 * time.Second),
	}
	for _, o := range opts {
		o(cfg)
	}
	assert.Equal(t, Passive, cfg.connectionType)
	assert.Equal(t, SSL, cfg.socketConnectionType)
	assert.Equal(t, 45*time.Second, cfg.inTransitExpiry)
	assert.Equal(t, 10*time.Second, cfg.monitorDefaultTimeout)
}
