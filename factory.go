package remotekit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClientConfig carries everything a driver needs to dial one endpoint.
type ClientConfig struct {
	Scheme      string
	Host        string
	Port        int
	Share       string // SMB share name
	Credentials Credentials

	// ConnectTimeout bounds the dial plus authentication handshake.
	ConnectTimeout time.Duration

	// IOTimeout bounds individual read/write stream operations where the
	// protocol supports deadlines.
	IOTimeout time.Duration

	Logger *zap.Logger
}

// Endpoint returns the host:port identity for this config.
func (c *ClientConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DriverFactory is a function that dials a RemoteFileClient from a config
type DriverFactory func(cfg ClientConfig) (RemoteFileClient, error)

var (
	driverFactories = make(map[string]DriverFactory)
	factoryMutex    sync.RWMutex
)

// RegisterDriver registers a driver factory under a URI scheme. Drivers call
// this from their register.go init; importing a driver package makes its
// scheme dialable.
func RegisterDriver(scheme string, factory DriverFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	driverFactories[scheme] = factory
}

// Dial creates an authenticated client for the config's scheme.
func Dial(cfg ClientConfig) (RemoteFileClient, error) {
	factoryMutex.RLock()
	factory, exists := driverFactories[cfg.Scheme]
	factoryMutex.RUnlock()

	if !exists {
		return nil, validationErr("dial", cfg.Endpoint(),
			fmt.Errorf("%w: no driver registered for scheme %q", ErrNotSupported, cfg.Scheme))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return factory(cfg)
}
