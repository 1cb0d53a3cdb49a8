package srp

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/netdata"
)

// Lease defaults, in seconds.
const (
	// DefaultMinLease is the minimum granted host/service lease (30 min).
	DefaultMinLease = 30 * 60

	// DefaultMaxLease is the maximum granted host/service lease (2 h).
	DefaultMaxLease = 2 * 3600

	// DefaultMinKeyLease is the minimum granted key lease (1 day).
	DefaultMinKeyLease = 24 * 3600

	// DefaultMaxKeyLease is the maximum granted key lease (14 days).
	DefaultMaxKeyLease = 14 * 24 * 3600
)

// DefaultAdvertisingTimeout bounds how long a parked update waits for the
// advertising handler before it is rejected.
const DefaultAdvertisingTimeout = 500 * time.Millisecond

// DefaultDomain is the registration domain served when none is configured.
const DefaultDomain = "default.service.arpa."

// Config holds the SRP server configuration.
type Config struct {
	// Domain is the registration domain. All names in an update must fall
	// under it. Stored in fully qualified form.
	Domain string

	// MinLease and MaxLease bound granted host/service leases, in seconds.
	MinLease uint32
	MaxLease uint32

	// MinKeyLease and MaxKeyLease bound granted key leases, in seconds.
	MinKeyLease uint32
	MaxKeyLease uint32

	// AdvertisingTimeout bounds how long an update may wait for the
	// advertising handler.
	AdvertisingTimeout time.Duration

	// NetData receives the server's port registration while running.
	// Optional.
	NetData *netdata.Local

	// Logger receives protocol events. Defaults to a no-op logger.
	Logger log.Logger
}

// DefaultConfig returns a server configuration with the standard lease
// bounds and domain.
func DefaultConfig() Config {
	return Config{
		Domain:             DefaultDomain,
		MinLease:           DefaultMinLease,
		MaxLease:           DefaultMaxLease,
		MinKeyLease:        DefaultMinKeyLease,
		MaxKeyLease:        DefaultMaxKeyLease,
		AdvertisingTimeout: DefaultAdvertisingTimeout,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("%w: domain not set", ErrInvalidArgs)
	}
	if _, ok := dns.IsDomainName(c.Domain); !ok {
		return fmt.Errorf("%w: domain %q is not a valid DNS name", ErrInvalidArgs, c.Domain)
	}
	if err := validateLeaseRange(c.MinLease, c.MaxLease, c.MinKeyLease, c.MaxKeyLease); err != nil {
		return err
	}
	if c.AdvertisingTimeout < 0 {
		return fmt.Errorf("%w: negative advertising timeout", ErrInvalidArgs)
	}
	return nil
}

// validateLeaseRange enforces the lease-range invariants: each range must
// be ordered, and the key-lease range must dominate the lease range so a
// granted key lease never ends before the lease it covers.
func validateLeaseRange(minLease, maxLease, minKeyLease, maxKeyLease uint32) error {
	if minLease > maxLease {
		return fmt.Errorf("%w: min lease %d > max lease %d", ErrInvalidArgs, minLease, maxLease)
	}
	if minKeyLease > maxKeyLease {
		return fmt.Errorf("%w: min key lease %d > max key lease %d", ErrInvalidArgs, minKeyLease, maxKeyLease)
	}
	if minLease > minKeyLease {
		return fmt.Errorf("%w: min lease %d > min key lease %d", ErrInvalidArgs, minLease, minKeyLease)
	}
	if maxLease > maxKeyLease {
		return fmt.Errorf("%w: max lease %d > max key lease %d", ErrInvalidArgs, maxLease, maxKeyLease)
	}
	return nil
}
