// Package tcp implements a TCP transport over an IPv6 datagram path.
//
// A Stack multiplexes endpoints over a single SegmentWriter. Each endpoint
// runs the RFC 793 state machine with a bounded send window (a segment ring
// carrying retransmission metadata) and a bounded receive window (an
// out-of-order reassembly ring). One shared timer drives retransmission,
// zero-window probing and TIME_WAIT expiry for all endpoints.
//
// Endpoints are single-use: once an endpoint reaches CLOSED it is detached
// from the stack and cannot be reconnected. Read and Write never block;
// completion is signalled through the endpoint's EventHandler.
package tcp
