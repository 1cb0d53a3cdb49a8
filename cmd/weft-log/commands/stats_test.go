package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
)

func TestStatsCountsByLayer(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerSRP, Category: log.CategoryMessage},
		{Timestamp: ts, Layer: log.LayerSRP, Category: log.CategoryMessage},
		{Timestamp: ts, Layer: log.LayerDNSSD, Category: log.CategoryMessage},
		{Timestamp: ts, Layer: log.LayerTCP, Category: log.CategoryMessage},
	}

	path := createTestLog(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Total Events: 4") {
		t.Errorf("expected total of 4 events, got:\n%s", output)
	}
	for _, want := range []string{"SRP:", "DNSSD:", "TCP:"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s layer in output:\n%s", want, output)
		}
	}
	if strings.Contains(output, "NETDATA:") {
		t.Errorf("unused layer should be omitted:\n%s", output)
	}
}

func TestStatsCountsDNSMessages(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp: ts, Layer: log.LayerSRP, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 1, Opcode: dns.OpcodeUpdate},
		},
		{
			Timestamp: ts.Add(time.Second), Layer: log.LayerSRP, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 1, Opcode: dns.OpcodeUpdate, Rcode: intPtr(dns.RcodeSuccess)},
		},
		{
			Timestamp: ts.Add(2 * time.Second), Layer: log.LayerDNSSD, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 2, QName: "_mesh._udp.default.service.arpa.", QType: u16Ptr(dns.TypePTR)},
		},
		{
			Timestamp: ts.Add(3 * time.Second), Layer: log.LayerDNSSD, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 2, Rcode: intPtr(dns.RcodeNameError)},
		},
	}

	path := createTestLog(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "DNS Messages: 1 updates, 1 queries, 2 responses") {
		t.Errorf("unexpected DNS message counts:\n%s", output)
	}
	if !strings.Contains(output, "NOERROR:") || !strings.Contains(output, "NXDOMAIN:") {
		t.Errorf("expected response code breakdown:\n%s", output)
	}
}

func TestStatsTracksHosts(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp: ts, Layer: log.LayerSRP, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityHost, Name: "lamp.default.service.arpa.",
				NewState: "active", Reason: "registered",
			},
		},
		{
			Timestamp: ts.Add(time.Second), Layer: log.LayerSRP, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityHost, Name: "lamp.default.service.arpa.",
				OldState: "active", NewState: "active", Reason: "updated",
			},
		},
		{
			Timestamp: ts.Add(2 * time.Second), Layer: log.LayerSRP, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityHost, Name: "sensor.default.service.arpa.",
				NewState: "active", Reason: "registered",
			},
		},
		{
			Timestamp: ts.Add(3 * time.Second), Layer: log.LayerService, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityServer, Name: "router",
				OldState: "IDLE", NewState: "RUNNING",
			},
		},
	}

	path := createTestLog(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Hosts Seen: 2") {
		t.Errorf("expected 2 hosts, got:\n%s", output)
	}
	if !strings.Contains(output, "lamp.default.service.arpa.") ||
		!strings.Contains(output, "sensor.default.service.arpa.") {
		t.Errorf("expected host names listed:\n%s", output)
	}
}

func TestStatsTimeRangeAndErrors(t *testing.T) {
	start := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	events := []log.Event{
		{Timestamp: start, Layer: log.LayerTransport, Category: log.CategoryMessage},
		{
			Timestamp: end, Layer: log.LayerSRP, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerSRP, Message: "bad signature"},
		},
	}

	path := createTestLog(t, events)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Duration:   1m30s") {
		t.Errorf("expected 1m30s duration, got:\n%s", output)
	}
	if !strings.Contains(output, "Errors: 1") {
		t.Errorf("expected error count, got:\n%s", output)
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLog(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero total, got:\n%s", buf.String())
	}
}
