// Command weft-register registers a host and its services with an SRP
// server, in the role of a mesh device.
//
// The signing key is loaded from the key directory, keyed by host
// name, and generated on first use. Re-running with the same host name
// therefore signs with the same key and refreshes the registration.
//
// Usage:
//
//	weft-register -host <name> [flags]
//
// Flags:
//
//	-server string    SRP server address (default "127.0.0.1:53535")
//	-host string      Host label to register (required)
//	-domain string    Registration domain (default "default.service.arpa.")
//	-addr string      Comma-separated host IPv6 addresses
//	-instance string  Service instance label (default: host label)
//	-service string   Service name, e.g. "_mesh._udp" (empty: host only)
//	-port int         Service port
//	-txt string       Comma-separated TXT strings
//	-lease int        Requested lease in seconds (default 1800)
//	-key-lease int    Requested key lease in seconds (default 86400)
//	-key-dir string   Key directory (default ".")
//	-remove           Remove the registration instead (lease 0)
//	-timeout duration Response timeout (default 2s)
//	-version          Print the version and exit
//
// Examples:
//
//	# Register a host with one service
//	weft-register -host lamp -addr fd00::17 -service _mesh._udp -port 1234 -txt v=1
//
//	# Refresh it (same key, same name)
//	weft-register -host lamp -addr fd00::17 -service _mesh._udp -port 1234
//
//	# Remove it, keeping the name reserved for the key lease
//	weft-register -host lamp -remove
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/keys"
	"github.com/weft-protocol/weft-go/pkg/srpclient"
	"github.com/weft-protocol/weft-go/pkg/version"
)

var (
	server      string
	hostLabel   string
	domain      string
	addrList    string
	instance    string
	serviceName string
	servicePort uint
	txtList     string
	lease       uint
	keyLease    uint
	keyDir      string
	remove      bool
	timeout     time.Duration
	showVersion bool
)

func init() {
	flag.StringVar(&server, "server", "127.0.0.1:53535", "SRP server address")
	flag.StringVar(&hostLabel, "host", "", "Host label to register (required)")
	flag.StringVar(&domain, "domain", "default.service.arpa.", "Registration domain")
	flag.StringVar(&addrList, "addr", "", "Comma-separated host IPv6 addresses")
	flag.StringVar(&instance, "instance", "", "Service instance label (default: host label)")
	flag.StringVar(&serviceName, "service", "", "Service name, e.g. \"_mesh._udp\" (empty: host only)")
	flag.UintVar(&servicePort, "port", 0, "Service port")
	flag.StringVar(&txtList, "txt", "", "Comma-separated TXT strings")
	flag.UintVar(&lease, "lease", 1800, "Requested lease in seconds")
	flag.UintVar(&keyLease, "key-lease", 86400, "Requested key lease in seconds")
	flag.StringVar(&keyDir, "key-dir", ".", "Key directory")
	flag.BoolVar(&remove, "remove", false, "Remove the registration instead (lease 0)")
	flag.DurationVar(&timeout, "timeout", 2*time.Second, "Response timeout")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	if showVersion {
		fmt.Println(version.String())
		return
	}
	if hostLabel == "" {
		log.Fatal("missing -host")
	}
	if !remove && addrList == "" {
		log.Fatal("missing -addr (required unless -remove)")
	}

	key, err := keys.GetOrCreate(keys.NewFileStore(keyDir), hostLabel)
	if err != nil {
		log.Fatalf("loading key: %v", err)
	}

	builder := &srpclient.Builder{
		HostName: hostLabel,
		Domain:   domain,
		Lease:    uint32(lease),
		KeyLease: uint32(keyLease),
		Key:      key,
	}
	for _, s := range splitList(addrList) {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			log.Fatalf("bad address %q: %v", s, err)
		}
		builder.Addresses = append(builder.Addresses, addr)
	}
	if serviceName != "" {
		reg := srpclient.ServiceReg{
			Instance: instance,
			Service:  serviceName,
			Port:     uint16(servicePort),
			Txt:      splitList(txtList),
		}
		if reg.Instance == "" {
			reg.Instance = hostLabel
		}
		builder.Services = append(builder.Services, reg)
	}

	var raw []byte
	if remove {
		_, raw, err = builder.Deregister()
	} else {
		_, raw, err = builder.Build()
	}
	if err != nil {
		log.Fatalf("building update: %v", err)
	}

	resp, err := exchange(server, raw, timeout)
	if err != nil {
		log.Fatalf("sending update: %v", err)
	}

	fmt.Printf("Response: %s\n", dns.RcodeToString[resp.Rcode])
	if granted := grantedLeases(resp); granted != nil {
		fmt.Printf("Granted lease: %ds, key lease: %ds\n", granted.Lease, granted.KeyLease)
	} else if resp.Rcode == dns.RcodeSuccess {
		fmt.Printf("Granted lease: %ds, key lease: %ds (as requested)\n", lease, keyLease)
	}
	if resp.Rcode != dns.RcodeSuccess {
		os.Exit(1)
	}
}

// exchange sends one update datagram and waits for the reply.
func exchange(server string, raw []byte, timeout time.Duration) (*dns.Msg, error) {
	conn, err := net.Dial("udp", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(raw); err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, dns.DefaultMsgSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(buf[:n]); err != nil {
		return nil, fmt.Errorf("bad response: %w", err)
	}
	return resp, nil
}

// grantedLeases extracts the update lease option from a response, if
// the server clamped the requested values.
func grantedLeases(resp *dns.Msg) *dns.EDNS0_UL {
	opt := resp.IsEdns0()
	if opt == nil {
		return nil
	}
	for _, o := range opt.Option {
		if ul, ok := o.(*dns.EDNS0_UL); ok {
			return ul
		}
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
