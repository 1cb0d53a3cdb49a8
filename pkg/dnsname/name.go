// Package dnsname classifies and manipulates DNS names under a DNS-SD
// domain. It is shared by the SRP server (update validation) and the DNS-SD
// responder (question routing).
package dnsname

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

var (
	// ErrOutsideDomain indicates the name is not a subdomain of the domain.
	ErrOutsideDomain = errors.New("name is outside the domain")

	// ErrMalformedName indicates the name cannot be split into labels.
	ErrMalformedName = errors.New("malformed name")
)

// Protocol labels recognized in service names.
const (
	labelUDP = "_udp"
	labelTCP = "_tcp"
	labelSub = "_sub"
)

// Kind classifies a name under a DNS-SD domain.
type Kind uint8

const (
	// KindHost is a host name: one or more labels directly under the
	// domain with no protocol label.
	KindHost Kind = iota
	// KindService is a service name: "<service>.<_udp|_tcp>.<domain>",
	// optionally preceded by "<subtype>._sub".
	KindService
	// KindInstance is a service instance name:
	// "<instance>.<service>.<_udp|_tcp>.<domain>".
	KindInstance
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHost:
		return "HOST"
	case KindService:
		return "SERVICE"
	case KindInstance:
		return "INSTANCE"
	default:
		return "UNKNOWN"
	}
}

// Components holds the parsed pieces of a name under a DNS-SD domain.
// Labels keep their wire escaping so they compare equal to other full names.
type Components struct {
	// Kind classifies the name.
	Kind Kind

	// Instance is the instance label (KindInstance only).
	Instance string

	// SubType is the subtype label including the leading underscore
	// (KindService with subtype only).
	SubType string

	// Service is "<service>.<protocol>", e.g. "_weft._udp"
	// (KindService and KindInstance).
	Service string

	// Host is the host label(s) joined with dots (KindHost only).
	Host string
}

// ServiceFullName returns the full service name under domain, or empty if
// the components carry no service.
func (c Components) ServiceFullName(domain string) string {
	if c.Service == "" {
		return ""
	}
	return c.Service + "." + dns.Fqdn(domain)
}

// Parse splits name into components relative to domain.
// Returns ErrOutsideDomain when name is not a subdomain of domain.
func Parse(name, domain string) (Components, error) {
	name = dns.CanonicalName(name)
	domain = dns.CanonicalName(domain)

	if !dns.IsSubDomain(domain, name) {
		return Components{}, ErrOutsideDomain
	}

	labels := dns.SplitDomainName(name)
	domainLabels := dns.SplitDomainName(domain)
	if len(labels) < len(domainLabels) {
		return Components{}, ErrMalformedName
	}
	rel := labels[:len(labels)-len(domainLabels)]

	proto := -1
	for i, l := range rel {
		if l == labelUDP || l == labelTCP {
			proto = i
			break
		}
	}

	// No protocol label: everything under the domain is a host name.
	if proto <= 0 {
		return Components{Kind: KindHost, Host: strings.Join(rel, ".")}, nil
	}

	service := rel[proto-1] + "." + rel[proto]
	before := rel[:proto-1]

	switch {
	case len(before) == 0:
		return Components{Kind: KindService, Service: service}, nil
	case len(before) == 2 && before[1] == labelSub:
		return Components{Kind: KindService, Service: service, SubType: before[0]}, nil
	case len(before) == 1:
		return Components{Kind: KindInstance, Instance: before[0], Service: service}, nil
	default:
		// Multi-label instance portions are not produced by SRP
		// registrations. Treat the whole prefix as the instance.
		return Components{Kind: KindInstance, Instance: strings.Join(before, "."), Service: service}, nil
	}
}

// Equal reports whether two full names are the same DNS name.
func Equal(a, b string) bool {
	return strings.EqualFold(dns.Fqdn(a), dns.Fqdn(b))
}

// InDomain reports whether name is domain or a subdomain of it.
func InDomain(name, domain string) bool {
	return dns.IsSubDomain(dns.CanonicalName(domain), dns.CanonicalName(name))
}

// ServiceFullName builds "<service>.<domain>" as a fully qualified name.
// The service must already carry its protocol label ("_weft._udp").
func ServiceFullName(service, domain string) string {
	return service + "." + dns.Fqdn(domain)
}

// InstanceFullName builds "<instance>.<service>.<domain>" as a fully
// qualified name.
func InstanceFullName(instance, service, domain string) string {
	return instance + "." + service + "." + dns.Fqdn(domain)
}

// HostFullName builds "<host>.<domain>" as a fully qualified name.
func HostFullName(host, domain string) string {
	return host + "." + dns.Fqdn(domain)
}

// ParentService returns the service full name of an instance full name,
// stripping the instance label.
func ParentService(instanceFullName string) (string, error) {
	labels := dns.SplitDomainName(instanceFullName)
	if len(labels) < 2 {
		return "", ErrMalformedName
	}
	return dns.Fqdn(strings.Join(labels[1:], ".")), nil
}
