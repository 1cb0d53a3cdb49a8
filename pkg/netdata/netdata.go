// Package netdata maintains the local network-data service registry and its
// Thread Service/Server TLV encoding. The SRP server publishes its presence
// here so mesh devices can discover it from network data alone.
package netdata

import (
	"bytes"
	"errors"
	"sync"
)

var (
	// ErrNotFound indicates no matching service entry exists.
	ErrNotFound = errors.New("service not found")

	// ErrTooManyServices indicates all service IDs are in use.
	ErrTooManyServices = errors.New("too many services")

	// ErrServiceDataTooLong indicates service or server data exceeds one TLV.
	ErrServiceDataTooLong = errors.New("service data too long")
)

const (
	// ThreadEnterpriseNumber is the IANA enterprise number assigned to the
	// Thread Group. Services under it encode with the compressed form.
	ThreadEnterpriseNumber uint32 = 44970

	// maxServices is bounded by the 4-bit service ID field.
	maxServices = 16

	// TLV types used in network data.
	tlvTypeService = 5
	tlvTypeServer  = 6

	// DefaultServerAddress is the server16 value published when the local
	// device has no mesh-local short address.
	DefaultServerAddress uint16 = 0xfffe
)

// Service is one entry in the local network-data registry.
type Service struct {
	// ServiceID is the 4-bit identifier assigned at registration.
	ServiceID uint8

	// EnterpriseNumber scopes the service data.
	EnterpriseNumber uint32

	// ServiceData identifies the service within the enterprise.
	ServiceData []byte

	// ServerData carries server-specific data (for SRP: the UDP port).
	ServerData []byte

	// Stable marks the entry as part of stable network data.
	Stable bool
}

// Local is the device's local network-data registry.
// All methods are safe for concurrent use.
type Local struct {
	mu            sync.Mutex
	serverAddress uint16
	services      []Service
	onChanged     func()
}

// NewLocal creates an empty registry publishing DefaultServerAddress as the
// server address.
func NewLocal() *Local {
	return &Local{serverAddress: DefaultServerAddress}
}

// SetServerAddress sets the server16 value used in Server TLVs.
func (l *Local) SetServerAddress(addr uint16) {
	l.mu.Lock()
	l.serverAddress = addr
	l.mu.Unlock()
}

// OnChanged registers a callback invoked after every registry mutation.
// The callback runs without the registry lock held and must not block.
func (l *Local) OnChanged(fn func()) {
	l.mu.Lock()
	l.onChanged = fn
	l.mu.Unlock()
}

// AddService registers or replaces the service entry matching enterprise and
// serviceData. Returns ErrTooManyServices when all service IDs are taken.
func (l *Local) AddService(enterprise uint32, serviceData, serverData []byte, stable bool) error {
	if len(serviceData) > 255 || len(serverData) > 251 {
		return ErrServiceDataTooLong
	}

	l.mu.Lock()
	for i := range l.services {
		s := &l.services[i]
		if s.EnterpriseNumber == enterprise && bytes.Equal(s.ServiceData, serviceData) {
			s.ServerData = append([]byte(nil), serverData...)
			s.Stable = stable
			cb := l.onChanged
			l.mu.Unlock()
			if cb != nil {
				cb()
			}
			return nil
		}
	}

	if len(l.services) >= maxServices {
		l.mu.Unlock()
		return ErrTooManyServices
	}

	l.services = append(l.services, Service{
		ServiceID:        l.nextServiceIDLocked(),
		EnterpriseNumber: enterprise,
		ServiceData:      append([]byte(nil), serviceData...),
		ServerData:       append([]byte(nil), serverData...),
		Stable:           stable,
	})
	cb := l.onChanged
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

// RemoveService removes the entry matching enterprise and serviceData.
func (l *Local) RemoveService(enterprise uint32, serviceData []byte) error {
	l.mu.Lock()
	for i := range l.services {
		s := l.services[i]
		if s.EnterpriseNumber == enterprise && bytes.Equal(s.ServiceData, serviceData) {
			l.services = append(l.services[:i], l.services[i+1:]...)
			cb := l.onChanged
			l.mu.Unlock()
			if cb != nil {
				cb()
			}
			return nil
		}
	}
	l.mu.Unlock()
	return ErrNotFound
}

// Services returns a snapshot of the registry.
func (l *Local) Services() []Service {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Service, len(l.services))
	for i, s := range l.services {
		out[i] = s
		out[i].ServiceData = append([]byte(nil), s.ServiceData...)
		out[i].ServerData = append([]byte(nil), s.ServerData...)
	}
	return out
}

// nextServiceIDLocked returns the smallest unused service ID.
func (l *Local) nextServiceIDLocked() uint8 {
	var used [maxServices]bool
	for _, s := range l.services {
		used[s.ServiceID] = true
	}
	for id := uint8(0); id < maxServices; id++ {
		if !used[id] {
			return id
		}
	}
	return 0
}

// Bytes encodes the registry as network-data Service TLVs with nested
// Server TLVs.
func (l *Local) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []byte
	for _, s := range l.services {
		out = append(out, encodeServiceTLV(s, l.serverAddress)...)
	}
	return out
}

func encodeServiceTLV(s Service, serverAddr uint16) []byte {
	// Server sub-TLV: server16 + server data.
	server := make([]byte, 0, 4+len(s.ServerData))
	server = append(server, tlvHeader(tlvTypeServer, s.Stable), byte(2+len(s.ServerData)))
	server = append(server, byte(serverAddr>>8), byte(serverAddr))
	server = append(server, s.ServerData...)

	// Service TLV value: flags/SID, [enterprise], service data, sub-TLVs.
	value := make([]byte, 0, 6+len(s.ServiceData)+len(server))
	if s.EnterpriseNumber == ThreadEnterpriseNumber {
		// T bit set: enterprise number is implied and omitted.
		value = append(value, 0x80|(s.ServiceID&0x0f))
	} else {
		value = append(value, s.ServiceID&0x0f)
		value = append(value,
			byte(s.EnterpriseNumber>>24), byte(s.EnterpriseNumber>>16),
			byte(s.EnterpriseNumber>>8), byte(s.EnterpriseNumber))
	}
	value = append(value, byte(len(s.ServiceData)))
	value = append(value, s.ServiceData...)
	value = append(value, server...)

	out := make([]byte, 0, 2+len(value))
	out = append(out, tlvHeader(tlvTypeService, s.Stable), byte(len(value)))
	out = append(out, value...)
	return out
}

func tlvHeader(tlvType byte, stable bool) byte {
	h := tlvType << 1
	if stable {
		h |= 1
	}
	return h
}
