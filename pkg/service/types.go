package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/weft-protocol/weft-go/pkg/dnssd"
	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/srp"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Default ports. SRP listens off the DNS port so a plain resolver on the
// same node keeps working; the responder claims the DNS port itself.
const (
	DefaultSRPPort   = 53535
	DefaultDNSSDPort = 53
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// LeaseRange bounds the leases the registration server grants, in
// seconds. A zero range keeps the server defaults.
type LeaseRange struct {
	// Min and Max bound host and service leases.
	Min uint32
	Max uint32

	// KeyMin and KeyMax bound key leases.
	KeyMin uint32
	KeyMax uint32
}

// IsZero reports whether no bound is set.
func (r LeaseRange) IsZero() bool {
	return r == LeaseRange{}
}

// RouterConfig configures a RouterService.
type RouterConfig struct {
	// BindAddress is the local address both sockets bind to (without a
	// port). Empty binds the unspecified address.
	BindAddress string

	// SRPPort is the UDP port for registration traffic
	// (default: DefaultSRPPort). Zero picks an ephemeral port.
	SRPPort uint16

	// DNSSDPort is the UDP port for discovery queries
	// (default: DefaultDNSSDPort). Zero picks an ephemeral port.
	DNSSDPort uint16

	// Domain is the registration and browsing domain.
	Domain string

	// Leases bounds granted leases. Zero keeps the server defaults.
	Leases LeaseRange

	// QueryTimeout bounds how long an unanswerable discovery query may
	// stay parked.
	QueryTimeout time.Duration

	// AdvertisingProxy re-publishes registrations on the neighboring
	// link over mDNS.
	AdvertisingProxy bool

	// ProxyInterface restricts proxy advertising to one interface.
	// Empty advertises on all interfaces.
	ProxyInterface string

	// LogFile appends protocol events in CBOR form to the given path.
	// Empty disables file logging.
	LogFile string

	// Logger receives protocol events from every layer (optional).
	Logger log.Logger
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SRPPort:      DefaultSRPPort,
		DNSSDPort:    DefaultDNSSDPort,
		Domain:       srp.DefaultDomain,
		QueryTimeout: dnssd.DefaultQueryTimeout,
	}
}

// Validate checks if the config is valid.
func (c *RouterConfig) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("%w: domain not set", ErrInvalidConfig)
	}
	if c.SRPPort != 0 && c.SRPPort == c.DNSSDPort {
		return fmt.Errorf("%w: registration and discovery share port %d", ErrInvalidConfig, c.SRPPort)
	}
	if !c.Leases.IsZero() {
		if c.Leases.Min > c.Leases.Max {
			return fmt.Errorf("%w: lease range %d-%d", ErrInvalidConfig, c.Leases.Min, c.Leases.Max)
		}
		if c.Leases.KeyMin > c.Leases.KeyMax {
			return fmt.Errorf("%w: key lease range %d-%d", ErrInvalidConfig, c.Leases.KeyMin, c.Leases.KeyMax)
		}
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("%w: negative query timeout", ErrInvalidConfig)
	}
	if c.ProxyInterface != "" && !c.AdvertisingProxy {
		return fmt.Errorf("%w: proxy interface without advertising proxy", ErrInvalidConfig)
	}
	return nil
}

// Event types for service callbacks.
type EventType uint8

const (
	// EventStarted - service reached RUNNING.
	EventStarted EventType = iota

	// EventStopped - service reached STOPPED.
	EventStopped

	// EventHostRegistered - a host registered.
	EventHostRegistered

	// EventHostUpdated - a registered host refreshed or changed its
	// registration.
	EventHostUpdated

	// EventHostRemoved - a host was removed, by the client or by lease
	// expiry.
	EventHostRemoved

	// EventServiceRemoved - a service instance was removed.
	EventServiceRemoved

	// EventQueryServed - a discovery query was answered.
	EventQueryServed

	// EventError - a component reported an error.
	EventError
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "STARTED"
	case EventStopped:
		return "STOPPED"
	case EventHostRegistered:
		return "HOST_REGISTERED"
	case EventHostUpdated:
		return "HOST_UPDATED"
	case EventHostRemoved:
		return "HOST_REMOVED"
	case EventServiceRemoved:
		return "SERVICE_REMOVED"
	case EventQueryServed:
		return "QUERY_SERVED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event represents a service event.
type Event struct {
	// Type is the event type.
	Type EventType

	// Name is the host, service or query name the event concerns.
	Name string

	// Reason describes what caused the event (e.g. "lease expired").
	Reason string

	// Rcode is the DNS response code for query events.
	Rcode int

	// Error is set if the event is an error.
	Error error
}

// EventHandler handles service events.
type EventHandler func(Event)
