package srp

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
)

// updateMessage carries one SRP update through validation, advertising
// and commit.
type updateMessage struct {
	trace  uuid.UUID
	msg    *dns.Msg
	raw    []byte
	from   netip.AddrPort
	rxTime time.Time

	host *Host

	// Requested lease values, before clamping.
	lease    uint32
	keyLease uint32
}

// processUpdate validates the update and stages the described host. The
// section order mirrors the wire processing rules: zone section, three
// passes over the update section, name-conflict check, then the
// additional section with the lease option and SIG(0) verification.
func (s *Server) processUpdate(upd *updateMessage) error {
	if err := s.checkZoneSection(upd.msg); err != nil {
		return err
	}

	host := newHost(upd.rxTime)
	if err := s.processServiceDiscovery(host, upd.msg); err != nil {
		return err
	}
	if err := s.processHostDescription(host, upd.msg); err != nil {
		return err
	}
	if err := s.processServiceDescription(host, upd.msg); err != nil {
		return err
	}
	if err := s.checkNameConflicts(host); err != nil {
		return err
	}
	if err := s.processAdditionalSection(host, upd); err != nil {
		return err
	}

	upd.host = host
	return nil
}

// checkZoneSection enforces the UPDATE section counts and verifies the
// zone is the served domain.
func (s *Server) checkZoneSection(msg *dns.Msg) error {
	if len(msg.Question) != 1 {
		return fmt.Errorf("%w: zone count %d, want 1", ErrParse, len(msg.Question))
	}
	if len(msg.Answer) != 0 {
		return fmt.Errorf("%w: prerequisite section not empty", ErrParse)
	}
	zone := msg.Question[0]
	if zone.Qtype != dns.TypeSOA {
		return fmt.Errorf("%w: zone type %d, want SOA", ErrParse, zone.Qtype)
	}
	if zone.Qclass != dns.ClassINET {
		return fmt.Errorf("%w: zone class %d, want IN", ErrParse, zone.Qclass)
	}
	if !dnsname.Equal(zone.Name, s.cfg.Domain) {
		return fmt.Errorf("%w: zone %q is not the served domain", ErrFailed, zone.Name)
	}
	return nil
}

// processServiceDiscovery is the first pass: PTR records register (class
// IN) or delete (class NONE) service instances under the staged host.
func (s *Server) processServiceDiscovery(host *Host, msg *dns.Msg) error {
	for _, rr := range msg.Ns {
		ptr, ok := rr.(*dns.PTR)
		if !ok {
			continue
		}
		hdr := ptr.Header()
		if hdr.Class != dns.ClassNONE && hdr.Class != dns.ClassINET {
			return fmt.Errorf("%w: PTR %q has class %d", ErrFailed, hdr.Name, hdr.Class)
		}

		comp, err := dnsname.Parse(hdr.Name, s.cfg.Domain)
		if err != nil || comp.Kind != dnsname.KindService {
			return fmt.Errorf("%w: PTR owner %q is not a service name", ErrSecurity, hdr.Name)
		}
		if !dnsname.InDomain(ptr.Ptr, s.cfg.Domain) {
			return fmt.Errorf("%w: instance %q is outside the served domain", ErrSecurity, ptr.Ptr)
		}

		svc, err := host.addService(hdr.Name, ptr.Ptr)
		if err != nil {
			return err
		}
		svc.deleted = hdr.Class == dns.ClassNONE
	}
	return nil
}

// processHostDescription is the second pass: AAAA records fill the host
// address set, the KEY record binds the name to the client's key, and
// delete-all records clear host or service resources.
func (s *Server) processHostDescription(host *Host, msg *dns.Msg) error {
	for _, rr := range msg.Ns {
		hdr := rr.Header()

		if hdr.Class == dns.ClassANY {
			// Delete-all-RRsets shape: TYPE ANY, TTL 0, empty RDATA.
			if _, ok := rr.(*dns.ANY); !ok || hdr.Ttl != 0 {
				return fmt.Errorf("%w: malformed delete-all record for %q", ErrFailed, hdr.Name)
			}
			if svc := host.findService(hdr.Name); svc != nil {
				svc.clearResources()
				continue
			}
			if err := host.setFullName(hdr.Name, s.cfg.Domain); err != nil {
				return err
			}
			host.clearAddresses()
			continue
		}

		switch rec := rr.(type) {
		case *dns.AAAA:
			if hdr.Class != dns.ClassINET {
				return fmt.Errorf("%w: AAAA %q has class %d", ErrFailed, hdr.Name, hdr.Class)
			}
			if err := host.setFullName(hdr.Name, s.cfg.Domain); err != nil {
				return err
			}
			addr, ok := netip.AddrFromSlice(rec.AAAA)
			if !ok || !addr.Is6() {
				return fmt.Errorf("%w: invalid AAAA rdata for %q", ErrParse, hdr.Name)
			}
			if err := host.addAddress(addr); err != nil && !errors.Is(err, ErrDrop) {
				return err
			}
		case *dns.KEY:
			if hdr.Class != dns.ClassINET {
				return fmt.Errorf("%w: KEY %q has class %d", ErrFailed, hdr.Name, hdr.Class)
			}
			if rec.Algorithm != dns.ECDSAP256SHA256 {
				return fmt.Errorf("%w: unsupported KEY algorithm %d", ErrSecurity, rec.Algorithm)
			}
			if err := host.setKey(rec); err != nil {
				return err
			}
		}
	}

	if host.fullName == "" {
		return fmt.Errorf("%w: update carries no host description", ErrFailed)
	}
	if host.key == nil {
		return fmt.Errorf("%w: update carries no KEY record", ErrFailed)
	}
	return nil
}

// processServiceDescription is the third pass: SRV and TXT records fill
// the resources of the services registered in the first pass.
func (s *Server) processServiceDescription(host *Host, msg *dns.Msg) error {
	for _, rr := range msg.Ns {
		switch rec := rr.(type) {
		case *dns.SRV:
			hdr := rec.Header()
			if hdr.Class != dns.ClassINET {
				return fmt.Errorf("%w: SRV %q has class %d", ErrFailed, hdr.Name, hdr.Class)
			}
			svc := host.findService(hdr.Name)
			if svc == nil {
				return fmt.Errorf("%w: SRV for unregistered instance %q", ErrFailed, hdr.Name)
			}
			if !dnsname.Equal(rec.Target, host.fullName) {
				return fmt.Errorf("%w: SRV target %q does not match host %q", ErrFailed, rec.Target, host.fullName)
			}
			svc.setSRV(rec.Priority, rec.Weight, rec.Port)
		case *dns.TXT:
			hdr := rec.Header()
			if hdr.Class != dns.ClassINET {
				return fmt.Errorf("%w: TXT %q has class %d", ErrFailed, hdr.Name, hdr.Class)
			}
			svc := host.findService(hdr.Name)
			if svc == nil {
				return fmt.Errorf("%w: TXT for unregistered instance %q", ErrFailed, hdr.Name)
			}
			txt, err := dnsname.PackTXT(rec.Txt)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrParse, err)
			}
			svc.setTxt(txt)
		}
	}

	for _, svc := range host.services {
		if !svc.deleted && svc.port == 0 {
			return fmt.Errorf("%w: service %q has no SRV port", ErrFailed, svc.fullName)
		}
	}
	return nil
}

// checkNameConflicts rejects updates whose host or instance names are
// already registered under a different key.
func (s *Server) checkNameConflicts(host *Host) error {
	key := host.key

	s.mu.RLock()
	defer s.mu.RUnlock()

	if existing := s.findHostLocked(host.fullName); existing != nil {
		if !sameKey(existing.Key(), key) {
			return fmt.Errorf("%w: host %q is registered under another key", ErrDuplicated, host.fullName)
		}
	}
	for _, svc := range host.services {
		for _, other := range s.hosts {
			if other.FindService(svc.fullName) != nil && !sameKey(other.Key(), key) {
				return fmt.Errorf("%w: instance %q is registered under another key", ErrDuplicated, svc.fullName)
			}
		}
	}
	return nil
}

// processAdditionalSection reads the update lease option and verifies the
// trailing SIG(0) with the key submitted in the update itself.
func (s *Server) processAdditionalSection(host *Host, upd *updateMessage) error {
	msg := upd.msg
	if len(msg.Extra) != 2 {
		return fmt.Errorf("%w: additional section must carry the lease option and SIG(0)", ErrFailed)
	}

	opt := msg.IsEdns0()
	if opt == nil {
		return fmt.Errorf("%w: missing EDNS(0) OPT record", ErrFailed)
	}
	var ul *dns.EDNS0_UL
	for _, o := range opt.Option {
		if u, ok := o.(*dns.EDNS0_UL); ok {
			ul = u
		}
	}
	if ul == nil {
		return fmt.Errorf("%w: missing update lease option", ErrFailed)
	}

	lease, keyLease := ul.Lease, ul.KeyLease
	if keyLease == 0 && lease != 0 {
		// Short-form option: the key lease follows the lease.
		keyLease = lease
	}
	if keyLease < lease {
		return fmt.Errorf("%w: key lease %d shorter than lease %d", ErrParse, keyLease, lease)
	}
	if lease != 0 && len(host.addresses) == 0 {
		return fmt.Errorf("%w: host %q has no usable address", ErrFailed, host.fullName)
	}
	host.setLeases(lease, keyLease)
	upd.lease, upd.keyLease = lease, keyLease

	sig, ok := msg.Extra[len(msg.Extra)-1].(*dns.SIG)
	if !ok {
		return fmt.Errorf("%w: SIG(0) must be the final record", ErrFailed)
	}
	if sig.TypeCovered != 0 {
		return fmt.Errorf("%w: SIG type-covered %d, want 0", ErrParse, sig.TypeCovered)
	}
	if sig.Algorithm != dns.ECDSAP256SHA256 {
		return fmt.Errorf("%w: unsupported SIG algorithm %d", ErrSecurity, sig.Algorithm)
	}
	if err := sig.Verify(host.key, upd.raw); err != nil {
		return fmt.Errorf("%w: %v", ErrSecurity, err)
	}
	return nil
}
