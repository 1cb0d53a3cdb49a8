// Package srpclient builds signed SRP registration messages.
//
// An SRP registration is a DNS UPDATE (RFC 2136) carrying a host
// description (AAAA set plus KEY record), the service instances to
// register, an EDNS(0) update lease option and a trailing SIG(0)
// signature (RFC 2931) produced with the host's ECDSA P-256 key. The
// same key must be reused for refreshes and removals because the server
// binds registered names to it.
package srpclient

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
)

// Builder errors.
var (
	ErrNoHostName = errors.New("host name not set")
	ErrNoKey      = errors.New("signing key not set")
	ErrNoAddress  = errors.New("at least one address required")
)

const (
	// keyFlags marks a non-zone entity key with general signatory
	// authority (RFC 2137).
	keyFlags = 0x0201

	// keyProtocol is the DNSSEC protocol value (RFC 4034).
	keyProtocol = 3

	// sigValidityWindow is applied on both sides of the signing time to
	// tolerate clock skew between client and server.
	sigValidityWindow = 5 * time.Minute
)

// ServiceReg describes one service instance to register.
type ServiceReg struct {
	// Instance is the service instance label, e.g. "my printer".
	Instance string

	// Service is the service name with protocol label, e.g. "_ipp._tcp".
	Service string

	// Port is the SRV port. Must be non-zero for registration.
	Port uint16

	// Priority and Weight fill the SRV record.
	Priority uint16
	Weight   uint16

	// Txt holds the TXT record strings. Empty registers an empty TXT.
	Txt []string

	// Remove deletes the instance instead of registering it. Only the
	// PTR removal is sent; Port, Priority, Weight and Txt are ignored.
	Remove bool
}

// Builder assembles a signed SRP update message.
type Builder struct {
	// HostName is the host label, e.g. "myhost" (without the domain).
	HostName string

	// Domain is the registration domain, e.g. "default.service.arpa.".
	Domain string

	// Addresses lists the host's IPv6 addresses.
	Addresses []netip.Addr

	// Services lists the service instances to register.
	Services []ServiceReg

	// Lease and KeyLease are the requested intervals in seconds.
	Lease    uint32
	KeyLease uint32

	// Key signs the update. The KEY record is derived from its public half.
	Key *ecdsa.PrivateKey

	// timeNow returns the current time. Defaults to time.Now.
	// Replaced in tests for deterministic behavior.
	timeNow func() time.Time
}

// Build assembles the update sections, signs the message and returns the
// parsed signed message together with the wire bytes ready to send.
func (b *Builder) Build() (*dns.Msg, []byte, error) {
	if b.HostName == "" {
		return nil, nil, ErrNoHostName
	}
	if b.Key == nil {
		return nil, nil, ErrNoKey
	}
	if b.Lease != 0 && len(b.Addresses) == 0 {
		return nil, nil, ErrNoAddress
	}

	domain := dns.Fqdn(b.Domain)
	hostName := dnsname.HostFullName(b.HostName, domain)

	msg := new(dns.Msg)
	msg.SetUpdate(domain)

	// Host description: clear previous state, then the address set and
	// the KEY record binding the name to the signing key.
	msg.Ns = append(msg.Ns, deleteAllRRsets(hostName))
	for _, addr := range b.Addresses {
		msg.Ns = append(msg.Ns, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: hostName, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: b.Lease},
			AAAA: addr.AsSlice(),
		})
	}
	keyRecord := NewKeyRecord(hostName, &b.Key.PublicKey, b.KeyLease)
	msg.Ns = append(msg.Ns, keyRecord)

	for _, svc := range b.Services {
		serviceName := dnsname.ServiceFullName(svc.Service, domain)
		instanceName := dnsname.InstanceFullName(svc.Instance, svc.Service, domain)

		if svc.Remove {
			// "Delete an RR from an RRset" form: class NONE, TTL zero.
			msg.Ns = append(msg.Ns, &dns.PTR{
				Hdr: dns.RR_Header{Name: serviceName, Rrtype: dns.TypePTR, Class: dns.ClassNONE, Ttl: 0},
				Ptr: instanceName,
			})
			continue
		}

		msg.Ns = append(msg.Ns, &dns.PTR{
			Hdr: dns.RR_Header{Name: serviceName, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: b.Lease},
			Ptr: instanceName,
		})
		msg.Ns = append(msg.Ns, deleteAllRRsets(instanceName))
		msg.Ns = append(msg.Ns, &dns.SRV{
			Hdr:      dns.RR_Header{Name: instanceName, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: b.Lease},
			Priority: svc.Priority,
			Weight:   svc.Weight,
			Port:     svc.Port,
			Target:   hostName,
		})
		txt := svc.Txt
		if len(txt) == 0 {
			txt = []string{""}
		}
		msg.Ns = append(msg.Ns, &dns.TXT{
			Hdr: dns.RR_Header{Name: instanceName, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: b.Lease},
			Txt: txt,
		})
	}

	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(dns.DefaultMsgSize)
	opt.Option = append(opt.Option, &dns.EDNS0_UL{Code: dns.EDNS0UL, Lease: b.Lease, KeyLease: b.KeyLease})
	msg.Extra = append(msg.Extra, opt)

	now := b.now()
	sig := &dns.SIG{}
	sig.Algorithm = dns.ECDSAP256SHA256
	sig.SignerName = hostName
	sig.KeyTag = keyRecord.KeyTag()
	sig.Inception = uint32(now.Add(-sigValidityWindow).Unix())
	sig.Expiration = uint32(now.Add(sigValidityWindow).Unix())

	wire, err := sig.Sign(b.Key, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign update: %w", err)
	}

	// Reparse so the returned message includes the appended SIG(0).
	signed := new(dns.Msg)
	if err := signed.Unpack(wire); err != nil {
		return nil, nil, fmt.Errorf("failed to reparse signed update: %w", err)
	}
	return signed, wire, nil
}

// Deregister assembles a removal update for the host. The key lease keeps
// the registered names reserved; set KeyLease to zero beforehand to
// release the key binding as well.
func (b *Builder) Deregister() (*dns.Msg, []byte, error) {
	removal := *b
	removal.Lease = 0
	removal.Addresses = nil
	removal.Services = nil
	return removal.Build()
}

// NewKeyRecord derives the KEY resource record advertising the public
// half of an SRP signing key (RFC 2930, algorithm ECDSA-P256-SHA-256).
func NewKeyRecord(name string, pub *ecdsa.PublicKey, ttl uint32) *dns.KEY {
	buf := make([]byte, 64)
	pub.X.FillBytes(buf[:32])
	pub.Y.FillBytes(buf[32:])

	key := &dns.KEY{}
	key.Hdr = dns.RR_Header{Name: name, Rrtype: dns.TypeKEY, Class: dns.ClassINET, Ttl: ttl}
	key.Flags = keyFlags
	key.Protocol = keyProtocol
	key.Algorithm = dns.ECDSAP256SHA256
	key.PublicKey = base64.StdEncoding.EncodeToString(buf)
	return key
}

func (b *Builder) now() time.Time {
	if b.timeNow != nil {
		return b.timeNow()
	}
	return time.Now()
}

func deleteAllRRsets(name string) dns.RR {
	return &dns.ANY{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeANY, Class: dns.ClassANY, Ttl: 0}}
}
