package advproxy

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

var (
	// ErrInvalidArgs indicates invalid arguments.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrInvalidState indicates an operation in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound indicates the instance is not advertised.
	ErrNotFound = errors.New("instance not advertised")
)

// Registration describes one service instance to publish.
type Registration struct {
	// Instance is the service instance label, e.g. "my printer".
	Instance string

	// Service is the service type with protocol label, e.g. "_ipp._tcp".
	Service string

	// Host is the host label the instance runs on (without the domain).
	Host string

	// Addresses are the host's addresses.
	Addresses []netip.Addr

	// Port is the SRV port.
	Port uint16

	// Txt holds the TXT record strings.
	Txt []string
}

// Name returns the key an advertised instance is tracked and removed
// under.
func (r Registration) Name() string {
	return r.Instance + "." + r.Service
}

// Advertiser publishes service instances on the neighboring link.
type Advertiser interface {
	// Advertise publishes or refreshes one instance.
	Advertise(ctx context.Context, reg Registration) error

	// Remove withdraws an advertised instance by its Name.
	// Returns ErrNotFound when nothing is advertised under it.
	Remove(instanceName string) error

	// Close withdraws all advertised instances.
	Close()
}

// AdvertiserConfig configures the mDNS advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty advertises on all interfaces.
	Interface string

	// TTL is the advertised record TTL. Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: 120 * time.Second,
	}
}
