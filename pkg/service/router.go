package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/weft-protocol/weft-go/pkg/advproxy"
	"github.com/weft-protocol/weft-go/pkg/dnssd"
	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/netdata"
	"github.com/weft-protocol/weft-go/pkg/srp"
	"github.com/weft-protocol/weft-go/pkg/transport"
)

// RouterService bundles the registration server, the DNS-SD responder
// and their UDP sockets into one unit with a single lifecycle. It owns
// the network data sink the registration server publishes into, and
// optionally an mDNS advertising proxy that mirrors registrations onto
// the infrastructure link.
//
// Every component logs through the service, which forwards the events
// to the configured logger (and log file) and derives its own event
// surface from them.
type RouterService struct {
	mu     sync.RWMutex
	config RouterConfig
	state  ServiceState

	base       log.Logger
	fileLogger *log.FileLogger

	netData   *netdata.Local
	registry  *srp.Server
	responder *dnssd.Server

	srpConn   *transport.UDPServer
	dnssdConn *transport.UDPServer
	proxy     *advproxy.Proxy

	ctx    context.Context
	cancel context.CancelFunc

	eventHandlers []EventHandler
}

// NewRouterService creates the service and its components. The
// components do not touch the network until Start.
func NewRouterService(config RouterConfig) (*RouterService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &RouterService{
		config: config,
		state:  StateIdle,
		base:   config.Logger,
	}
	if s.base == nil {
		s.base = log.NoopLogger{}
	}
	tap := &eventTap{svc: s}

	s.netData = netdata.NewLocal()

	srpCfg := srp.DefaultConfig()
	srpCfg.Domain = config.Domain
	if !config.Leases.IsZero() {
		srpCfg.MinLease = config.Leases.Min
		srpCfg.MaxLease = config.Leases.Max
		srpCfg.MinKeyLease = config.Leases.KeyMin
		srpCfg.MaxKeyLease = config.Leases.KeyMax
	}
	srpCfg.NetData = s.netData
	srpCfg.Logger = tap

	registry, err := srp.NewServer(srpCfg)
	if err != nil {
		return nil, fmt.Errorf("creating registration server: %w", err)
	}
	s.registry = registry

	dnssdCfg := dnssd.DefaultConfig()
	dnssdCfg.Domain = config.Domain
	if config.QueryTimeout > 0 {
		dnssdCfg.QueryTimeout = config.QueryTimeout
	}
	dnssdCfg.Logger = tap

	responder, err := dnssd.NewServer(dnssdCfg, registry)
	if err != nil {
		return nil, fmt.Errorf("creating responder: %w", err)
	}
	s.responder = responder

	return s, nil
}

// Start opens the UDP sockets and starts all components. The service
// must be idle or stopped. Cancelling ctx stops the service.
func (s *RouterService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startComponents(); err != nil {
		s.cancel()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	// Stop when the parent context ends. A regular Stop cancels the
	// derived context, which makes this goroutine's own Stop a no-op.
	go func(done <-chan struct{}) {
		<-done
		_ = s.Stop()
	}(s.ctx.Done())

	s.logServiceState(StateStarting, StateRunning, "started")
	s.emitEvent(Event{Type: EventStarted})
	return nil
}

func (s *RouterService) startComponents() error {
	tap := &eventTap{svc: s}

	if s.config.LogFile != "" {
		fl, err := log.NewFileLogger(s.config.LogFile)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		s.mu.Lock()
		s.fileLogger = fl
		s.mu.Unlock()
	}

	srpConn, err := transport.NewUDPServer(transport.UDPConfig{
		Address:  s.listenAddress(s.config.SRPPort),
		Logger:   tap,
		OnPacket: s.registry.HandlePacket,
		OnError:  s.onSocketError,
	})
	if err == nil {
		err = srpConn.Start()
	}
	if err != nil {
		s.teardown(nil, nil)
		return fmt.Errorf("registration socket: %w", err)
	}

	dnssdConn, err := transport.NewUDPServer(transport.UDPConfig{
		Address:  s.listenAddress(s.config.DNSSDPort),
		Logger:   tap,
		OnPacket: s.responder.HandlePacket,
		OnError:  s.onSocketError,
	})
	if err == nil {
		err = dnssdConn.Start()
	}
	if err != nil {
		s.teardown(srpConn, nil)
		return fmt.Errorf("responder socket: %w", err)
	}

	if s.config.AdvertisingProxy {
		advCfg := advproxy.DefaultAdvertiserConfig()
		advCfg.Interface = s.config.ProxyInterface
		adv, err := advproxy.NewMDNSAdvertiser(advCfg)
		if err != nil {
			s.teardown(srpConn, dnssdConn)
			return fmt.Errorf("creating advertiser: %w", err)
		}
		proxy, err := advproxy.NewProxy(s.registry, adv, tap)
		if err != nil {
			s.teardown(srpConn, dnssdConn)
			return fmt.Errorf("creating advertising proxy: %w", err)
		}
		if err := proxy.Start(); err != nil {
			s.teardown(srpConn, dnssdConn)
			return fmt.Errorf("starting advertising proxy: %w", err)
		}
		s.mu.Lock()
		s.proxy = proxy
		s.mu.Unlock()
	}

	// The sockets are live before the servers start; both servers drop
	// packets until their own Start completes.
	if err := s.registry.Start(srpConn, srpConn.LocalPort()); err != nil {
		s.teardown(srpConn, dnssdConn)
		return fmt.Errorf("starting registration server: %w", err)
	}
	if err := s.responder.Start(dnssdConn); err != nil {
		s.registry.Stop()
		s.teardown(srpConn, dnssdConn)
		return fmt.Errorf("starting responder: %w", err)
	}

	s.mu.Lock()
	s.srpConn = srpConn
	s.dnssdConn = dnssdConn
	s.mu.Unlock()
	return nil
}

// teardown rolls back a partial start. The proxy and file logger are
// taken from the service; the sockets are passed in because they are
// not yet published at that point.
func (s *RouterService) teardown(srpConn, dnssdConn *transport.UDPServer) {
	s.mu.Lock()
	proxy := s.proxy
	fl := s.fileLogger
	s.proxy = nil
	s.fileLogger = nil
	s.mu.Unlock()

	if srpConn != nil {
		srpConn.Stop()
	}
	if dnssdConn != nil {
		dnssdConn.Stop()
	}
	if proxy != nil {
		proxy.Stop()
	}
	if fl != nil {
		fl.Close()
	}
}

// Stop stops all components and closes the sockets. Hosts still in the
// registry are flushed with their state logged.
func (s *RouterService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	srpConn := s.srpConn
	dnssdConn := s.dnssdConn
	proxy := s.proxy
	s.srpConn = nil
	s.dnssdConn = nil
	s.proxy = nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	// Quiesce intake first so the servers stop with a stable table.
	if srpConn != nil {
		srpConn.Stop()
	}
	if dnssdConn != nil {
		dnssdConn.Stop()
	}
	s.responder.Stop()
	s.registry.Stop()
	if proxy != nil {
		proxy.Stop()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logServiceState(StateStopping, StateStopped, "stopped")
	s.emitEvent(Event{Type: EventStopped})

	s.mu.Lock()
	fl := s.fileLogger
	s.fileLogger = nil
	s.mu.Unlock()
	if fl != nil {
		fl.Close()
	}
	return nil
}

// State returns the current service state.
func (s *RouterService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnEvent registers a handler for service events. Handlers run on
// their own goroutines and must not block indefinitely.
func (s *RouterService) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// Registry returns the registration server.
func (s *RouterService) Registry() *srp.Server { return s.registry }

// Responder returns the DNS-SD responder.
func (s *RouterService) Responder() *dnssd.Server { return s.responder }

// NetData returns the network data sink the registration server
// publishes its port into.
func (s *RouterService) NetData() *netdata.Local { return s.netData }

// Domain returns the registration domain.
func (s *RouterService) Domain() string { return s.registry.Domain() }

// SRPPort returns the bound registration port, or zero when not
// running. With a configured port of zero this is the port the kernel
// picked.
func (s *RouterService) SRPPort() uint16 {
	s.mu.RLock()
	conn := s.srpConn
	s.mu.RUnlock()
	if conn == nil {
		return 0
	}
	return conn.LocalPort()
}

// DNSSDPort returns the bound responder port, or zero when not
// running.
func (s *RouterService) DNSSDPort() uint16 {
	s.mu.RLock()
	conn := s.dnssdConn
	s.mu.RUnlock()
	if conn == nil {
		return 0
	}
	return conn.LocalPort()
}

// SetRegistrationEnabled toggles whether the registration server
// accepts updates. While disabled, updates draw REFUSED; existing
// registrations stay and keep expiring.
func (s *RouterService) SetRegistrationEnabled(enabled bool) {
	s.registry.SetEnabled(enabled)
}

func (s *RouterService) listenAddress(port uint16) string {
	return net.JoinHostPort(s.config.BindAddress, strconv.Itoa(int(port)))
}

func (s *RouterService) emitEvent(event Event) {
	s.mu.RLock()
	handlers := make([]EventHandler, len(s.eventHandlers))
	copy(handlers, s.eventHandlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

func (s *RouterService) logServiceState(prev, next ServiceState, reason string) {
	s.observe(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityServer,
			Name:     "router",
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (s *RouterService) onSocketError(err error) {
	s.observe(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: "socket read",
		},
	})
}

// observe forwards a protocol event to the configured loggers and
// derives the service event, if any.
func (s *RouterService) observe(ev log.Event) {
	s.base.Log(ev)

	s.mu.RLock()
	fl := s.fileLogger
	s.mu.RUnlock()
	if fl != nil {
		fl.Log(ev)
	}

	if event, ok := deriveEvent(ev); ok {
		s.emitEvent(event)
	}
}

// eventTap is the logger handed to the components. It routes their
// events through the service.
type eventTap struct {
	svc *RouterService
}

func (t *eventTap) Log(event log.Event) {
	t.svc.observe(event)
}

// deriveEvent maps a protocol event onto the service event surface.
// Registry state changes become host and service events, responses
// sent by the responder become query events, and errors at any layer
// surface as error events.
func deriveEvent(ev log.Event) (Event, bool) {
	switch {
	case ev.StateChange != nil:
		sc := ev.StateChange
		switch sc.Entity {
		case log.StateEntityHost:
			switch {
			case sc.Reason == "registered":
				return Event{Type: EventHostRegistered, Name: sc.Name}, true
			case sc.Reason == "updated":
				return Event{Type: EventHostUpdated, Name: sc.Name}, true
			case sc.NewState == "deleted" || sc.NewState == "removed":
				return Event{Type: EventHostRemoved, Name: sc.Name, Reason: sc.Reason}, true
			}
		case log.StateEntityServiceInstance:
			if sc.NewState == "deleted" || sc.NewState == "removed" {
				return Event{Type: EventServiceRemoved, Name: sc.Name, Reason: sc.Reason}, true
			}
		}
	case ev.DNS != nil && ev.Layer == log.LayerDNSSD && ev.Direction == log.DirectionOut:
		event := Event{Type: EventQueryServed, Name: ev.DNS.QName}
		if ev.DNS.Rcode != nil {
			event.Rcode = *ev.DNS.Rcode
		}
		return event, true
	case ev.Error != nil:
		return Event{
			Type:   EventError,
			Name:   ev.Error.Context,
			Reason: ev.Error.Message,
			Error:  errors.New(ev.Error.Message),
		}, true
	}
	return Event{}, false
}
