package dnssd

import (
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
)

func appendRecord(resp *dns.Msg, rr dns.RR, answer bool) {
	if answer {
		resp.Answer = append(resp.Answer, rr)
	} else {
		resp.Extra = append(resp.Extra, rr)
	}
}

func ptrRecord(serviceName, instanceName string, ttl uint32) *dns.PTR {
	return &dns.PTR{
		Hdr: dns.RR_Header{Name: serviceName, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: ttl},
		Ptr: instanceName,
	}
}

func srvRecord(instanceName, hostName string, priority, weight, port uint16, ttl uint32) *dns.SRV {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Name: instanceName, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
		Priority: priority,
		Weight:   weight,
		Port:     port,
		Target:   hostName,
	}
}

// txtRecord builds a TXT record from packed TXT data. Unreadable or
// empty data becomes the single empty string DNS-SD mandates.
func txtRecord(instanceName string, txtData []byte, ttl uint32) *dns.TXT {
	strs, err := dnsname.UnpackTXT(txtData)
	if err != nil || len(strs) == 0 {
		strs = []string{""}
	}
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: instanceName, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl},
		Txt: strs,
	}
}

func aaaaRecord(hostName string, addr netip.Addr, ttl uint32) *dns.AAAA {
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: hostName, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
		AAAA: addr.AsSlice(),
	}
}

// remainingTTL converts a lease deadline to a record TTL.
func remainingTTL(expire, now time.Time) uint32 {
	left := expire.Sub(now)
	if left <= 0 {
		return 0
	}
	return uint32(left / time.Second)
}
