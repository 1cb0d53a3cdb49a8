// Package dnssd implements a unicast DNS-SD responder that answers
// PTR, SRV, TXT and AAAA queries from the registration table of an SRP
// server (package srp).
//
// Browse queries (PTR on a service name) return one pointer per
// registered instance, with the instance's SRV, TXT and host AAAA
// records in the additional section. Resolve queries (SRV or TXT on an
// instance name) and host queries (AAAA) are answered directly. Record
// TTLs reflect the remaining registration lease.
//
// Queries the table cannot answer may be parked on a pair of discovery
// callbacks, typically bridged to mDNS on a neighboring link. A parked
// query is answered as soon as NotifyServiceInstance reports a matching
// instance, or with an empty NOERROR response when the query timeout
// elapses.
package dnssd
