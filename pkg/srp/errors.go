package srp

import (
	"errors"

	"github.com/miekg/dns"
)

// Server errors.
var (
	// ErrNoBufs indicates a resource limit was hit, e.g. the address
	// capacity of a host.
	ErrNoBufs = errors.New("insufficient buffers")

	// ErrParse indicates a malformed update message.
	ErrParse = errors.New("malformed update")

	// ErrFailed indicates an update that is well formed but violates the
	// registration rules.
	ErrFailed = errors.New("update refused")

	// ErrSecurity indicates a failed signature or key check.
	ErrSecurity = errors.New("authentication failed")

	// ErrDuplicated indicates a name conflict with a registration held
	// under a different key.
	ErrDuplicated = errors.New("name conflict")

	// ErrResponseTimeout indicates the advertising handler did not
	// confirm an update in time.
	ErrResponseTimeout = errors.New("advertising response timeout")

	// ErrInvalidState indicates an operation in the wrong server state.
	ErrInvalidState = errors.New("invalid server state")

	// ErrInvalidArgs indicates out-of-range arguments.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrDrop indicates a silently discarded input, e.g. an address the
	// host cannot be reached on.
	ErrDrop = errors.New("dropped")
)

// rcodeForError maps a processing error to the DNS response code sent to
// the client. Anything unrecognized, including advertising rejections and
// timeouts, maps to REFUSED.
func rcodeForError(err error) int {
	switch {
	case err == nil:
		return dns.RcodeSuccess
	case errors.Is(err, ErrNoBufs):
		return dns.RcodeServerFailure
	case errors.Is(err, ErrParse):
		return dns.RcodeFormatError
	case errors.Is(err, ErrDuplicated):
		return dns.RcodeYXDomain
	default:
		return dns.RcodeRefused
	}
}
