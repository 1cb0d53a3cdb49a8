// Command weft-browse queries a DNS-SD responder over unicast UDP, in
// the role of a mesh client discovering services.
//
// Usage:
//
//	weft-browse -type <service> [flags]
//	weft-browse -type <service> -instance <label> [flags]
//	weft-browse -host <label> [flags]
//
// Flags:
//
//	-server string    Responder address (default "127.0.0.1:53")
//	-domain string    Browsing domain (default "default.service.arpa.")
//	-type string      Service name to browse, e.g. "_mesh._udp"
//	-instance string  Instance label to resolve (with -type)
//	-host string      Host label to look up (AAAA)
//	-timeout duration Response timeout (default 6s, covering parked queries)
//	-version          Print the version and exit
//
// Examples:
//
//	# Browse all instances of a service
//	weft-browse -type _mesh._udp
//
//	# Resolve one instance to target, port, TXT and addresses
//	weft-browse -type _mesh._udp -instance lamp
//
//	# Look up a host's addresses
//	weft-browse -host lamp
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/version"
)

var (
	server      string
	domain      string
	serviceType string
	instance    string
	hostLabel   string
	timeout     time.Duration
	showVersion bool
)

func init() {
	flag.StringVar(&server, "server", "127.0.0.1:53", "Responder address")
	flag.StringVar(&domain, "domain", "default.service.arpa.", "Browsing domain")
	flag.StringVar(&serviceType, "type", "", "Service name to browse, e.g. \"_mesh._udp\"")
	flag.StringVar(&instance, "instance", "", "Instance label to resolve (with -type)")
	flag.StringVar(&hostLabel, "host", "", "Host label to look up (AAAA)")
	flag.DurationVar(&timeout, "timeout", 6*time.Second, "Response timeout")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	if showVersion {
		fmt.Println(version.String())
		return
	}

	name, qtype, err := question()
	if err != nil {
		log.Fatal(err)
	}

	req := new(dns.Msg)
	req.SetQuestion(name, qtype)

	client := &dns.Client{Net: "udp", Timeout: timeout}
	resp, rtt, err := client.Exchange(req, server)
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	fmt.Printf("Response: %s (%s)\n", dns.RcodeToString[resp.Rcode], rtt.Round(time.Millisecond))
	printSection("Answers", resp.Answer)
	printSection("Additional", resp.Extra)

	if resp.Rcode != dns.RcodeSuccess {
		os.Exit(1)
	}
}

// question derives the single question from the mode flags.
func question() (string, uint16, error) {
	switch {
	case hostLabel != "":
		return dns.Fqdn(hostLabel + "." + domain), dns.TypeAAAA, nil
	case serviceType != "" && instance != "":
		return dns.Fqdn(instance + "." + serviceType + "." + domain), dns.TypeSRV, nil
	case serviceType != "":
		return dns.Fqdn(serviceType + "." + domain), dns.TypePTR, nil
	default:
		return "", 0, fmt.Errorf("one of -type, -type with -instance, or -host is required")
	}
}

func printSection(title string, rrs []dns.RR) {
	if len(rrs) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for _, rr := range rrs {
		if _, ok := rr.(*dns.OPT); ok {
			continue
		}
		fmt.Printf("  %s\n", rr)
	}
}
