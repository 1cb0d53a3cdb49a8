package tcp

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/message"
)

// Configuration and endpoint errors.
var (
	// ErrInvalidArgs indicates invalid configuration or call arguments.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrInvalidState indicates an operation not permitted in the current
	// endpoint state.
	ErrInvalidState = errors.New("invalid endpoint state")
)

const (
	// MaxSegmentSize is the largest payload carried in a single segment.
	// Sized so a full segment fits a 1280-byte IPv6 MTU.
	MaxSegmentSize = 1220

	// MaxSendSegments bounds the send window ring.
	MaxSendSegments = 8

	// MaxRecvSegments bounds the receive reassembly ring.
	MaxRecvSegments = 8

	// DefaultMSL is the default maximum segment lifetime. TIME_WAIT lasts
	// twice this.
	DefaultMSL = 30 * time.Second

	// SynRetryInterval is the retransmission interval for SYN segments.
	SynRetryInterval = time.Second

	// ZeroWindowProbeInterval is the send interval for segments that do not
	// fit the peer's advertised window.
	ZeroWindowProbeInterval = time.Second

	// NewMessageSendDelay is how long a freshly written segment waits before
	// its first send, so that back-to-back writes coalesce.
	NewMessageSendDelay = 10 * time.Millisecond

	// InitialSmoothedRTT seeds the round-trip estimator before the first
	// measurement.
	InitialSmoothedRTT = 300 * time.Millisecond

	// DefaultMinRTT and DefaultMaxRTT clamp the retransmission timeout.
	DefaultMinRTT = 100 * time.Millisecond
	DefaultMaxRTT = 10 * time.Second

	// DynamicPortMin and DynamicPortMax bound ephemeral port assignment.
	DynamicPortMin = 49152
	DynamicPortMax = 65535
)

// minFreeBufferThreshold is the pool free count below which the receive
// window advertises zero and endpoint timers are deferred.
const minFreeBufferThreshold = 4

// lowBufferDeferral is the minimum timer deferral while the pool is below
// minFreeBufferThreshold.
const lowBufferDeferral = time.Second

// Round-trip estimator parameters: smoothed = (smoothed*(alpha-1)+sample)/alpha,
// retransmit timeout = smoothed*betaNum/betaDen clamped to [min,max].
const (
	rttAlpha   = 8
	rttBetaNum = 3
	rttBetaDen = 2
)

// Config holds the stack configuration.
type Config struct {
	// Output sends assembled segments toward the IPv6 layer. Required.
	Output SegmentWriter

	// LocalAddr is the source address used by endpoints bound to the
	// unspecified address. Endpoints bound to a concrete address use that
	// address; listeners learn theirs from the SYN's destination.
	LocalAddr netip.Addr

	// Pool supplies payload buffers. The pool free count caps the advertised
	// receive window. A nil Pool gets a private default-sized pool.
	Pool *message.Pool

	// MSL is the maximum segment lifetime. Defaults to DefaultMSL.
	MSL time.Duration

	// Logger receives segment and state-change events.
	// nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns a configuration with default values.
// Output must still be set before use.
func DefaultConfig() Config {
	return Config{
		MSL:    DefaultMSL,
		Logger: log.NoopLogger{},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Output == nil {
		return fmt.Errorf("%w: output not set", ErrInvalidArgs)
	}
	if c.MSL < 0 {
		return fmt.Errorf("%w: negative msl", ErrInvalidArgs)
	}
	return nil
}
