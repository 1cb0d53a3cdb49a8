package srp

import (
	"sync"
	"time"
)

// Service is a service instance registered under a Host. A deleted
// service keeps its name reserved until the owning key lease ends.
type Service struct {
	mu sync.RWMutex

	// Immutable after creation.
	host        *Host
	fullName    string
	serviceName string

	priority   uint16
	weight     uint16
	port       uint16
	txtData    []byte
	deleted    bool
	updateTime time.Time
}

// FullName returns the fully qualified service instance name.
func (s *Service) FullName() string {
	return s.fullName
}

// ServiceName returns the fully qualified service name the instance was
// registered under, e.g. "_ipp._tcp.default.service.arpa.".
func (s *Service) ServiceName() string {
	return s.serviceName
}

// Host returns the owning host.
func (s *Service) Host() *Host {
	return s.host
}

// Priority returns the SRV priority.
func (s *Service) Priority() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority
}

// Weight returns the SRV weight.
func (s *Service) Weight() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weight
}

// Port returns the SRV port. Zero for a deleted service.
func (s *Service) Port() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// TxtData returns a copy of the TXT record data in wire form.
func (s *Service) TxtData() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.txtData...)
}

// IsDeleted reports whether the service is deleted but retained under
// the host's key lease.
func (s *Service) IsDeleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted
}

// UpdateTime returns when the service was last updated.
func (s *Service) UpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateTime
}

// LeaseExpireTime returns when the service lease ends. Services share
// the host's lease duration but keep their own update times.
func (s *Service) LeaseExpireTime() time.Time {
	s.mu.RLock()
	at := s.updateTime
	s.mu.RUnlock()
	return at.Add(time.Duration(s.host.Lease()) * time.Second)
}

// KeyLeaseExpireTime returns when the service's key lease ends.
func (s *Service) KeyLeaseExpireTime() time.Time {
	s.mu.RLock()
	at := s.updateTime
	s.mu.RUnlock()
	return at.Add(time.Duration(s.host.KeyLease()) * time.Second)
}

// setSRV stores the SRV resources during update processing.
func (s *Service) setSRV(priority, weight, port uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = priority
	s.weight = weight
	s.port = port
}

// setTxt stores the TXT data in wire form during update processing.
func (s *Service) setTxt(txt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txtData = txt
}

// clearResources resets the service's SRV and TXT data.
func (s *Service) clearResources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority, s.weight, s.port = 0, 0, 0
	s.txtData = nil
}

// markDeleted clears the service's resources and flags it deleted. The
// instance name stays reserved until the key lease ends.
func (s *Service) markDeleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority, s.weight, s.port = 0, 0, 0
	s.txtData = nil
	s.deleted = true
}

// touch refreshes the service's update time.
func (s *Service) touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateTime = at
}

// copyResourcesFrom replaces the service's resources with those staged
// in other and revives it if it was deleted.
func (s *Service) copyResourcesFrom(other *Service, now time.Time) {
	other.mu.RLock()
	priority, weight, port := other.priority, other.weight, other.port
	txt := append([]byte(nil), other.txtData...)
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority, s.weight, s.port = priority, weight, port
	s.txtData = txt
	s.deleted = false
	s.updateTime = now
}
