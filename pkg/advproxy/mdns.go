package advproxy

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// mdnsDomain is the domain instances are published under on the
// neighboring link.
const mdnsDomain = "local."

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu sync.Mutex

	// Active registrations keyed by lowercased Registration.Name.
	servers map[string]*zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	return &MDNSAdvertiser{
		config:  config,
		servers: make(map[string]*zeroconf.Server),
	}, nil
}

// getInterfaces returns the network interfaces to advertise on.
// Returns nil to use all interfaces.
func (a *MDNSAdvertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise publishes one instance, replacing any previous registration
// under the same name. The registrant's own host name and addresses are
// published, not this machine's.
func (a *MDNSAdvertiser) Advertise(_ context.Context, reg Registration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := strings.ToLower(reg.Name())
	if server, exists := a.servers[key]; exists {
		server.Shutdown()
		delete(a.servers, key)
	}

	ips := make([]string, 0, len(reg.Addresses))
	for _, addr := range reg.Addresses {
		ips = append(ips, addr.String())
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.RegisterProxy(
		reg.Instance,
		reg.Service,
		mdnsDomain,
		int(reg.Port),
		reg.Host,
		ips,
		reg.Txt,
		a.getInterfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", key, err)
	}

	a.servers[key] = server
	return nil
}

// Remove withdraws an advertised instance.
func (a *MDNSAdvertiser) Remove(instanceName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := strings.ToLower(instanceName)
	server, exists := a.servers[key]
	if !exists {
		return ErrNotFound
	}

	server.Shutdown()
	delete(a.servers, key)
	return nil
}

// Close withdraws all advertised instances.
func (a *MDNSAdvertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, server := range a.servers {
		server.Shutdown()
		delete(a.servers, key)
	}
}

// Ensure MDNSAdvertiser implements the Advertiser interface.
var _ Advertiser = (*MDNSAdvertiser)(nil)
