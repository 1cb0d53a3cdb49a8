// Command weft-border runs the border router service: the SRP
// registration server, the DNS-SD responder answering from its table
// and, optionally, an mDNS advertising proxy toward the
// infrastructure link.
//
// Usage:
//
//	weft-border [flags]
//
// Flags:
//
//	-config string      YAML configuration file path
//	-bind string        Bind address without port (default all interfaces)
//	-srp-port int       UDP port for registration updates (default 53535)
//	-dnssd-port int     UDP port for discovery queries (default 53)
//	-domain string      Registration domain (default "default.service.arpa.")
//	-proxy              Re-advertise registrations over mDNS
//	-proxy-iface string Restrict the advertising proxy to one interface
//	-log-file string    Append protocol events in CBOR form to this file
//	-log-level string   Console log level: debug, info, warn, error (default "info")
//	-interactive        Start the interactive console
//	-version            Print the version and exit
//
// Flags given on the command line override values from the config file.
//
// Examples:
//
//	# Defaults: registration on :53535, discovery on :53
//	weft-border
//
//	# Config file plus interactive console
//	weft-border -config /etc/weft/router.yaml -interactive
//
//	# Ephemeral ports with full event capture
//	weft-border -srp-port 0 -dnssd-port 0 -log-file router.wlog -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/weft-protocol/weft-go/cmd/weft-border/interactive"
	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/service"
	"github.com/weft-protocol/weft-go/pkg/version"
)

var (
	configFile  string
	bindAddr    string
	srpPort     uint
	dnssdPort   uint
	domain      string
	proxy       bool
	proxyIface  string
	logFile     string
	logLevel    string
	runConsole  bool
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "YAML configuration file path")
	flag.StringVar(&bindAddr, "bind", "", "Bind address without port (default all interfaces)")
	flag.UintVar(&srpPort, "srp-port", service.DefaultSRPPort, "UDP port for registration updates")
	flag.UintVar(&dnssdPort, "dnssd-port", service.DefaultDNSSDPort, "UDP port for discovery queries")
	flag.StringVar(&domain, "domain", "", "Registration domain")
	flag.BoolVar(&proxy, "proxy", false, "Re-advertise registrations over mDNS")
	flag.StringVar(&proxyIface, "proxy-iface", "", "Restrict the advertising proxy to one interface")
	flag.StringVar(&logFile, "log-file", "", "Append protocol events in CBOR form to this file")
	flag.StringVar(&logLevel, "log-level", "info", "Console log level: debug, info, warn, error")
	flag.BoolVar(&runConsole, "interactive", false, "Start the interactive console")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version.String())
		return
	}

	stdlog.SetFlags(stdlog.Ltime)

	cfg, err := buildConfig()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	svc, err := service.NewRouterService(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !runConsole {
		svc.OnEvent(printEvent)
	}

	if err := svc.Start(ctx); err != nil {
		stdlog.Fatalf("Failed to start service: %v", err)
	}
	stdlog.Printf("Border router running: domain %s, registration :%d, discovery :%d",
		svc.Domain(), svc.SRPPort(), svc.DNSSDPort())

	if runConsole {
		console, err := interactive.New(svc)
		if err != nil {
			stdlog.Fatalf("Failed to start console: %v", err)
		}
		console.Run(ctx, cancel)
	} else {
		<-ctx.Done()
	}

	stdlog.Println("Shutting down...")
	if err := svc.Stop(); err != nil && err != service.ErrNotStarted {
		stdlog.Printf("Error stopping service: %v", err)
	}
}

// buildConfig merges defaults, the optional config file and any flags
// given on the command line, in that order.
func buildConfig() (service.RouterConfig, error) {
	cfg := service.DefaultRouterConfig()

	if configFile != "" {
		loaded, err := service.LoadConfigFile(configFile)
		if err != nil {
			return service.RouterConfig{}, err
		}
		cfg = loaded
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bind":
			cfg.BindAddress = bindAddr
		case "srp-port":
			if srpPort > 65535 {
				flagErr = fmt.Errorf("srp-port %d out of range", srpPort)
				return
			}
			cfg.SRPPort = uint16(srpPort)
		case "dnssd-port":
			if dnssdPort > 65535 {
				flagErr = fmt.Errorf("dnssd-port %d out of range", dnssdPort)
				return
			}
			cfg.DNSSDPort = uint16(dnssdPort)
		case "domain":
			cfg.Domain = domain
		case "proxy":
			cfg.AdvertisingProxy = proxy
		case "proxy-iface":
			cfg.ProxyInterface = proxyIface
		case "log-file":
			cfg.LogFile = logFile
		}
	})
	if flagErr != nil {
		return service.RouterConfig{}, flagErr
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return service.RouterConfig{}, fmt.Errorf("bad log level %q: %w", logLevel, err)
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
	cfg.Logger = log.NewZerologAdapter(zl)

	if err := cfg.Validate(); err != nil {
		return service.RouterConfig{}, err
	}
	return cfg, nil
}

func printEvent(ev service.Event) {
	switch ev.Type {
	case service.EventStarted, service.EventStopped:
		stdlog.Printf("[%s]", ev.Type)
	case service.EventQueryServed:
		stdlog.Printf("[%s] %s rcode=%d", ev.Type, ev.Name, ev.Rcode)
	case service.EventError:
		stdlog.Printf("[%s] %s: %s", ev.Type, ev.Name, ev.Reason)
	default:
		if ev.Reason != "" {
			stdlog.Printf("[%s] %s (%s)", ev.Type, ev.Name, ev.Reason)
		} else {
			stdlog.Printf("[%s] %s", ev.Type, ev.Name)
		}
	}
}
