package service

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-protocol/weft-go/pkg/keys"
	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/srpclient"
)

// newTestRouter builds a service on loopback with kernel-picked ports
// and an event channel fed by an OnEvent handler.
func newTestRouter(t *testing.T) (*RouterService, chan Event) {
	t.Helper()

	cfg := DefaultRouterConfig()
	cfg.BindAddress = "127.0.0.1"
	cfg.SRPPort = 0
	cfg.DNSSDPort = 0

	svc, err := NewRouterService(cfg)
	require.NoError(t, err)

	events := make(chan Event, 64)
	svc.OnEvent(func(ev Event) { events <- ev })
	return svc, events
}

// waitEvent reads events until one of the wanted type arrives.
func waitEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", want)
		}
	}
}

func TestRouterServiceLifecycle(t *testing.T) {
	svc, events := newTestRouter(t)
	assert.Equal(t, StateIdle, svc.State())
	assert.Zero(t, svc.SRPPort())

	require.NoError(t, svc.Start(context.Background()))
	waitEvent(t, events, EventStarted)
	assert.Equal(t, StateRunning, svc.State())

	srpPort := svc.SRPPort()
	dnssdPort := svc.DNSSDPort()
	assert.NotZero(t, srpPort)
	assert.NotZero(t, dnssdPort)
	assert.NotEqual(t, srpPort, dnssdPort)

	require.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, svc.Stop())
	waitEvent(t, events, EventStopped)
	assert.Equal(t, StateStopped, svc.State())
	assert.Zero(t, svc.SRPPort())
	require.ErrorIs(t, svc.Stop(), ErrNotStarted)

	// A stopped service can start again.
	require.NoError(t, svc.Start(context.Background()))
	waitEvent(t, events, EventStarted)
	require.NoError(t, svc.Stop())
	waitEvent(t, events, EventStopped)
}

func TestRouterServiceStopsOnContextCancel(t *testing.T) {
	svc, events := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	waitEvent(t, events, EventStarted)

	cancel()
	waitEvent(t, events, EventStopped)
	assert.Equal(t, StateStopped, svc.State())
}

func TestRouterServiceEmitsHostEvents(t *testing.T) {
	svc, events := newTestRouter(t)
	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop() }()
	waitEvent(t, events, EventStarted)

	key, err := keys.Generate()
	require.NoError(t, err)

	builder := &srpclient.Builder{
		HostName:  "lamp",
		Domain:    svc.Domain(),
		Addresses: []netip.Addr{netip.MustParseAddr("fd00::17")},
		Services: []srpclient.ServiceReg{{
			Instance: "lamp",
			Service:  "_mesh._udp",
			Port:     1234,
			Txt:      []string{"v=1"},
		}},
		Lease:    1800,
		KeyLease: 86400,
		Key:      key,
	}
	_, raw, err := builder.Build()
	require.NoError(t, err)

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(svc.SRPPort()))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(raw)
	require.NoError(t, err)

	ev := waitEvent(t, events, EventHostRegistered)
	assert.Equal(t, "lamp."+svc.Domain(), ev.Name)

	buf := make([]byte, 512)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var resp dns.Msg
	require.NoError(t, resp.Unpack(buf[:n]))
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Len(t, svc.Registry().Hosts(), 1)
}

func TestDeriveEvent(t *testing.T) {
	rcode := dns.RcodeSuccess

	tests := []struct {
		name string
		in   log.Event
		want Event
		ok   bool
	}{
		{
			name: "host registered",
			in: log.Event{StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityHost,
				Name:     "lamp.default.service.arpa.",
				NewState: "active",
				Reason:   "registered",
			}},
			want: Event{Type: EventHostRegistered, Name: "lamp.default.service.arpa."},
			ok:   true,
		},
		{
			name: "host updated",
			in: log.Event{StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityHost,
				Name:     "lamp.default.service.arpa.",
				OldState: "active",
				NewState: "active",
				Reason:   "updated",
			}},
			want: Event{Type: EventHostUpdated, Name: "lamp.default.service.arpa."},
			ok:   true,
		},
		{
			name: "host lease expired",
			in: log.Event{StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityHost,
				Name:     "lamp.default.service.arpa.",
				OldState: "active",
				NewState: "deleted",
				Reason:   "lease expired",
			}},
			want: Event{Type: EventHostRemoved, Name: "lamp.default.service.arpa.", Reason: "lease expired"},
			ok:   true,
		},
		{
			name: "host removed by client",
			in: log.Event{StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityHost,
				Name:     "lamp.default.service.arpa.",
				OldState: "active",
				NewState: "removed",
				Reason:   "removed by client",
			}},
			want: Event{Type: EventHostRemoved, Name: "lamp.default.service.arpa.", Reason: "removed by client"},
			ok:   true,
		},
		{
			name: "service instance removed",
			in: log.Event{StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityServiceInstance,
				Name:     "lamp._mesh._udp.default.service.arpa.",
				NewState: "deleted",
				Reason:   "removed by client",
			}},
			want: Event{Type: EventServiceRemoved, Name: "lamp._mesh._udp.default.service.arpa.", Reason: "removed by client"},
			ok:   true,
		},
		{
			name: "server state ignored",
			in: log.Event{StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityServer,
				NewState: "RUNNING",
			}},
		},
		{
			name: "query served",
			in: log.Event{
				Layer:     log.LayerDNSSD,
				Direction: log.DirectionOut,
				DNS:       &log.DNSEvent{QName: "_mesh._udp.default.service.arpa.", Rcode: &rcode},
			},
			want: Event{Type: EventQueryServed, Name: "_mesh._udp.default.service.arpa.", Rcode: dns.RcodeSuccess},
			ok:   true,
		},
		{
			name: "query received ignored",
			in: log.Event{
				Layer:     log.LayerDNSSD,
				Direction: log.DirectionIn,
				DNS:       &log.DNSEvent{QName: "_mesh._udp.default.service.arpa."},
			},
		},
		{
			name: "srp response ignored",
			in: log.Event{
				Layer:     log.LayerSRP,
				Direction: log.DirectionOut,
				DNS:       &log.DNSEvent{Rcode: &rcode},
			},
		},
		{
			name: "packet ignored",
			in: log.Event{
				Layer:    log.LayerTransport,
				Category: log.CategoryMessage,
				Packet:   &log.PacketEvent{Size: 32},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := deriveEvent(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDeriveEventError(t *testing.T) {
	got, ok := deriveEvent(log.Event{
		Layer:    log.LayerTransport,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: "read: connection refused",
			Context: "socket read",
		},
	})
	require.True(t, ok)
	assert.Equal(t, EventError, got.Type)
	assert.Equal(t, "socket read", got.Name)
	assert.Equal(t, "read: connection refused", got.Reason)
	require.Error(t, got.Error)
	assert.EqualError(t, got.Error, "read: connection refused")
}
