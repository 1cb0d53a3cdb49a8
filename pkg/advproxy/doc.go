// Package advproxy re-advertises SRP registrations on a neighboring
// link over mDNS and gates SRP commits on the outcome.
//
// The Proxy installs itself as the SRP server's advertising handler:
// each accepted update is published through an Advertiser before the
// server commits it and responds to the client. Advertising failures
// reject the update. MDNSAdvertiser is the zeroconf-backed Advertiser;
// tests and alternative backbones can supply their own.
package advproxy
