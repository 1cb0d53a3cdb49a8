package dnssd

import (
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/srp"
)

// DefaultPort is the UDP port DNS-SD queries arrive on.
const DefaultPort = 53

// DefaultQueryTimeout bounds how long a query parked on the discovery
// callbacks waits before it is answered with what is known.
const DefaultQueryTimeout = 6 * time.Second

// DefaultMaxConcurrentQueries caps the queries parked on the discovery
// callbacks at any one time.
const DefaultMaxConcurrentQueries = 32

var (
	// ErrInvalidArgs indicates invalid arguments.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrInvalidState indicates an operation in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
)

// Config holds the DNS-SD responder configuration.
type Config struct {
	// Domain is the browsing domain queries must fall under. Empty
	// adopts the registration server's domain. Stored in fully
	// qualified form.
	Domain string

	// QueryTimeout bounds how long a query may stay parked on the
	// discovery callbacks.
	QueryTimeout time.Duration

	// MaxConcurrentQueries caps the number of parked queries. Further
	// unanswerable queries are answered NXDOMAIN immediately.
	MaxConcurrentQueries int

	// Logger receives protocol events. Defaults to a no-op logger.
	Logger log.Logger
}

// DefaultConfig returns a responder configuration with the standard
// domain, query timeout and parked-query limit.
func DefaultConfig() Config {
	return Config{
		Domain:               srp.DefaultDomain,
		QueryTimeout:         DefaultQueryTimeout,
		MaxConcurrentQueries: DefaultMaxConcurrentQueries,
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
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("%w: query timeout must be positive", ErrInvalidArgs)
	}
	if c.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("%w: max concurrent queries must be positive", ErrInvalidArgs)
	}
	return nil
}
