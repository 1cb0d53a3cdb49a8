package dnssd

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
)

// queryKind classifies what a parked query is waiting for.
type queryKind uint8

const (
	queryNone queryKind = iota
	// queryBrowse waits for instances of a service name (PTR).
	queryBrowse
	// queryResolve waits for one instance's SRV and TXT data.
	queryResolve
)

// queryTransaction is a query parked on the discovery callbacks. Its
// response already echoes the questions; answers are appended when a
// matching instance is reported.
type queryTransaction struct {
	trace    uuid.UUID
	req      *dns.Msg
	resp     *dns.Msg
	from     netip.AddrPort
	name     string
	kind     queryKind
	expireAt time.Time
}

// InstanceInfo describes a discovered service instance reported through
// NotifyServiceInstance.
type InstanceInfo struct {
	// FullName is the instance's full name.
	FullName string

	// HostName is the full name of the host the instance runs on.
	HostName string

	// Addresses are the host's addresses. May be empty when discovery
	// has not resolved them yet.
	Addresses []netip.Addr

	// Port, Priority and Weight mirror the instance's SRV data.
	Port     uint16
	Priority uint16
	Weight   uint16

	// TxtData is the packed TXT record data.
	TxtData []byte

	// TTL is the record time to live, in seconds.
	TTL uint32
}

// classifyQuery picks the discovery subscription for a query: the first
// PTR question browses its service name, the first SRV or TXT question
// resolves its instance name. Plain AAAA queries are never parked.
func classifyQuery(req *dns.Msg) (queryKind, string) {
	for _, q := range req.Question {
		switch q.Qtype {
		case dns.TypePTR:
			return queryBrowse, q.Name
		case dns.TypeSRV, dns.TypeTXT:
			return queryResolve, q.Name
		}
	}
	return queryNone, ""
}

// parkQuery holds an unanswered query for the discovery callbacks.
// Reports false when no subscribe callback is installed, the query
// carries no browsable or resolvable question, or the parking limit is
// reached; the caller then answers from the table alone.
func (s *Server) parkQuery(req, resp *dns.Msg, from netip.AddrPort, trace uuid.UUID) bool {
	kind, name := classifyQuery(req)
	if kind == queryNone {
		return false
	}

	s.mu.Lock()
	subscribe := s.subscribe
	if subscribe == nil || !s.running || len(s.queries) >= s.cfg.MaxConcurrentQueries {
		s.mu.Unlock()
		return false
	}
	s.queries = append(s.queries, &queryTransaction{
		trace:    trace,
		req:      req,
		resp:     resp,
		from:     from,
		name:     name,
		kind:     kind,
		expireAt: s.timeNow().Add(s.cfg.QueryTimeout),
	})
	s.scheduleQueryTimerLocked()
	s.mu.Unlock()

	subscribe(name)
	return true
}

// NotifyServiceInstance reports an instance found through the discovery
// callbacks, answering the parked queries it matches: browse queries on
// the instance's service name and resolve queries on the instance name.
func (s *Server) NotifyServiceInstance(serviceName string, info InstanceInfo) {
	serviceName = dns.Fqdn(serviceName)
	info.FullName = dns.Fqdn(info.FullName)
	info.HostName = dns.Fqdn(info.HostName)

	s.mu.Lock()
	var matched []*queryTransaction
	kept := s.queries[:0]
	for _, q := range s.queries {
		var hit bool
		switch q.kind {
		case queryBrowse:
			hit = dnsname.Equal(q.name, serviceName)
		case queryResolve:
			hit = dnsname.Equal(q.name, info.FullName)
		}
		if hit {
			matched = append(matched, q)
		} else {
			kept = append(kept, q)
		}
	}
	s.queries = kept
	if len(matched) > 0 {
		s.scheduleQueryTimerLocked()
	}
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	for _, q := range matched {
		appendInstanceRecords(q, serviceName, info)
		if unsubscribe != nil {
			unsubscribe(q.name)
		}
		s.send(q.resp, q.from, q.trace)
	}
}

// appendInstanceRecords fills a parked query's response from the
// discovered instance. Record types the query asked for become answers;
// the rest ride along as additionals.
func appendInstanceRecords(q *queryTransaction, serviceName string, info InstanceInfo) {
	resp := q.resp
	if hasQuestion(q.req, serviceName, dns.TypePTR) {
		resp.Answer = append(resp.Answer, ptrRecord(serviceName, info.FullName, info.TTL))
	}
	for _, answer := range []bool{true, false} {
		if hasQuestion(q.req, info.FullName, dns.TypeSRV) == answer {
			appendRecord(resp, srvRecord(info.FullName, info.HostName, info.Priority, info.Weight, info.Port, info.TTL), answer)
		}
		if hasQuestion(q.req, info.FullName, dns.TypeTXT) == answer {
			appendRecord(resp, txtRecord(info.FullName, info.TxtData, info.TTL), answer)
		}
		if len(info.Addresses) > 0 && hasQuestion(q.req, info.HostName, dns.TypeAAAA) == answer {
			for _, addr := range info.Addresses {
				appendRecord(resp, aaaaRecord(info.HostName, addr, info.TTL), answer)
			}
		}
	}
}

func hasQuestion(req *dns.Msg, name string, qtype uint16) bool {
	for _, q := range req.Question {
		if q.Qtype == qtype && dnsname.Equal(q.Name, name) {
			return true
		}
	}
	return false
}

// scheduleQueryTimerLocked arms the query timer for the earliest parked
// deadline. Caller holds s.mu.
func (s *Server) scheduleQueryTimerLocked() {
	if s.queryTimer != nil {
		s.queryTimer.Stop()
		s.queryTimer = nil
	}
	if !s.running || len(s.queries) == 0 {
		return
	}
	earliest := s.queries[0].expireAt
	for _, q := range s.queries[1:] {
		if q.expireAt.Before(earliest) {
			earliest = q.expireAt
		}
	}
	d := earliest.Sub(s.timeNow())
	if d < 0 {
		d = 0
	}
	s.queryTimer = time.AfterFunc(d, s.handleQueryTimeout)
}

// handleQueryTimeout answers parked queries whose wait elapsed with
// whatever the table offered when they arrived.
func (s *Server) handleQueryTimeout() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	now := s.timeNow()
	var expired []*queryTransaction
	kept := s.queries[:0]
	for _, q := range s.queries {
		if !q.expireAt.After(now) {
			expired = append(expired, q)
		} else {
			kept = append(kept, q)
		}
	}
	s.queries = kept
	s.scheduleQueryTimerLocked()
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	for _, q := range expired {
		if unsubscribe != nil {
			unsubscribe(q.name)
		}
		s.send(q.resp, q.from, q.trace)
	}
}
