package srp

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
)

// MaxAddresses is the address capacity of a host.
const MaxAddresses = 8

// Host is a registered SRP host: a fully qualified name bound to an
// address set, an ECDSA key and a list of service instances. A deleted
// host keeps its name and key until the key lease ends so the names stay
// reserved for the owner.
type Host struct {
	mu sync.RWMutex

	fullName   string
	addresses  []netip.Addr
	key        *dns.KEY
	lease      uint32
	keyLease   uint32
	deleted    bool
	updateTime time.Time
	services   []*Service
}

func newHost(at time.Time) *Host {
	return &Host{updateTime: at}
}

// FullName returns the host's fully qualified name.
func (h *Host) FullName() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fullName
}

// Addresses returns a copy of the host's registered addresses.
func (h *Host) Addresses() []netip.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]netip.Addr(nil), h.addresses...)
}

// Key returns the KEY record binding the host name to its owner.
func (h *Host) Key() *dns.KEY {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key
}

// Lease returns the granted lease in seconds.
func (h *Host) Lease() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lease
}

// KeyLease returns the granted key lease in seconds.
func (h *Host) KeyLease() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.keyLease
}

// IsDeleted reports whether the host is deleted but still retained under
// its key lease.
func (h *Host) IsDeleted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deleted
}

// UpdateTime returns when the host was last updated.
func (h *Host) UpdateTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updateTime
}

// Services returns the host's service instances, including deleted ones.
func (h *Host) Services() []*Service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Service(nil), h.services...)
}

// FindService returns the service instance with the given full name, or
// nil if the host has none.
func (h *Host) FindService(instanceName string) *Service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.findService(instanceName)
}

// LeaseExpireTime returns when the host lease ends.
func (h *Host) LeaseExpireTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updateTime.Add(time.Duration(h.lease) * time.Second)
}

// KeyLeaseExpireTime returns when the key lease ends.
func (h *Host) KeyLeaseExpireTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updateTime.Add(time.Duration(h.keyLease) * time.Second)
}

// findService looks up a service by instance name. The caller must hold
// h.mu or have exclusive ownership of an unpublished host.
func (h *Host) findService(instanceName string) *Service {
	for _, svc := range h.services {
		if dnsname.Equal(svc.fullName, instanceName) {
			return svc
		}
	}
	return nil
}

// setFullName records the host name the first time it is seen during
// update processing. A second, different name is an error.
func (h *Host) setFullName(name, domain string) error {
	if h.fullName != "" {
		if !dnsname.Equal(h.fullName, name) {
			return fmt.Errorf("%w: conflicting host names %q and %q", ErrFailed, h.fullName, name)
		}
		return nil
	}
	if !dnsname.InDomain(name, domain) {
		return fmt.Errorf("%w: host name %q is outside domain %q", ErrSecurity, name, domain)
	}
	h.fullName = name
	return nil
}

// addAddress records an IPv6 address during update processing. Multicast,
// unspecified, loopback, link-local and duplicate addresses are dropped.
func (h *Host) addAddress(addr netip.Addr) error {
	if addr.IsMulticast() || addr.IsUnspecified() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
		return ErrDrop
	}
	for _, existing := range h.addresses {
		if existing == addr {
			return ErrDrop
		}
	}
	if len(h.addresses) == MaxAddresses {
		return ErrNoBufs
	}
	h.addresses = append(h.addresses, addr)
	return nil
}

func (h *Host) clearAddresses() {
	h.addresses = nil
}

// setKey records the host's KEY record. Repeated identical KEY records
// are tolerated; a different key in the same update is rejected.
func (h *Host) setKey(key *dns.KEY) error {
	if h.key != nil {
		if !sameKey(h.key, key) {
			return fmt.Errorf("%w: conflicting KEY records for %q", ErrSecurity, h.fullName)
		}
		return nil
	}
	h.key = key
	return nil
}

// addService stages a new service instance. Registering the same instance
// name twice in one update is an error.
func (h *Host) addService(serviceName, instanceName string) (*Service, error) {
	if h.findService(instanceName) != nil {
		return nil, fmt.Errorf("%w: instance %q appears twice in one update", ErrFailed, instanceName)
	}
	svc := &Service{
		host:        h,
		fullName:    instanceName,
		serviceName: serviceName,
		updateTime:  h.updateTime,
	}
	h.services = append(h.services, svc)
	return svc, nil
}

// setLeases stores the lease pair, either as requested during parsing or
// as granted at commit.
func (h *Host) setLeases(lease, keyLease uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lease = lease
	h.keyLease = keyLease
}

// touch refreshes the host's update time, restarting its lease windows.
func (h *Host) touch(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updateTime = at
}

// markDeleted clears the host's resources and flags it deleted. The name
// and key stay reserved until the key lease ends. All service instances
// are marked deleted as well.
func (h *Host) markDeleted() {
	h.mu.Lock()
	h.addresses = nil
	h.lease = 0
	h.deleted = true
	services := append([]*Service(nil), h.services...)
	h.mu.Unlock()

	for _, svc := range services {
		svc.markDeleted()
	}
}

// mergeFrom applies a successfully committed update staged in other:
// addresses, key and leases are replaced, then each staged service either
// marks its counterpart deleted or replaces its resources.
func (h *Host) mergeFrom(other *Host, now time.Time) {
	addresses := other.Addresses()
	key := other.Key()
	lease := other.Lease()
	keyLease := other.KeyLease()
	staged := other.Services()

	type pending struct {
		target *Service
		from   *Service
	}
	var apply []pending

	h.mu.Lock()
	h.addresses = addresses
	h.key = key
	h.lease = lease
	h.keyLease = keyLease
	h.deleted = false
	h.updateTime = now

	for _, svc := range staged {
		target := h.findService(svc.fullName)
		if target == nil {
			if svc.IsDeleted() {
				continue
			}
			target = &Service{
				host:        h,
				fullName:    svc.fullName,
				serviceName: svc.serviceName,
				updateTime:  now,
			}
			h.services = append(h.services, target)
		}
		apply = append(apply, pending{target: target, from: svc})
	}
	h.mu.Unlock()

	for _, p := range apply {
		if p.from.IsDeleted() {
			p.target.markDeleted()
			p.target.touch(now)
			continue
		}
		p.target.copyResourcesFrom(p.from, now)
	}
}

// removeService drops a service instance from the host entirely.
func (h *Host) removeService(svc *Service) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.services {
		if s == svc {
			h.services = append(h.services[:i], h.services[i+1:]...)
			return
		}
	}
}

// sameKey reports whether two KEY records carry the same public key.
func sameKey(a, b *dns.KEY) bool {
	return a.Algorithm == b.Algorithm &&
		a.Flags == b.Flags &&
		a.Protocol == b.Protocol &&
		a.PublicKey == b.PublicKey
}
