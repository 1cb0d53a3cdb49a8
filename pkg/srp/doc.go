// Package srp implements the server side of the Service Registration
// Protocol: a DNS UPDATE service through which hosts register their
// addresses and service instances under a shared domain.
//
// Clients send RFC 2136 UPDATE messages authenticated with a SIG(0)
// record (ECDSA P-256, RFC 2931) whose KEY travels in the same message.
// The server grants bounded leases, keeps the registered hosts and
// services in memory, and expires them with a single earliest-deadline
// timer. Registered names stay bound to the client's key: a later update
// for the same name under a different key is rejected with YXDOMAIN.
//
// An optional advertising handler gates commits: when set, each accepted
// update is parked until the handler confirms it (for example after
// re-advertising the services on a neighboring link), rejects it, or the
// advertising timeout elapses. The server publishes its UDP port into
// the local network data registry while running.
//
// The DNS-SD responder in package dnssd answers queries from the host
// table maintained here.
package srp
