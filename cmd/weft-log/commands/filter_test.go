package commands

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
)

// readAllEvents drains a log file for assertions.
func readAllEvents(t *testing.T, path string) []log.Event {
	t.Helper()

	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestFilterByTracePrefix(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, TraceID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Layer: log.LayerSRP, Category: log.CategoryMessage},
		{Timestamp: ts, TraceID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Layer: log.LayerSRP, Category: log.CategoryMessage},
		{Timestamp: ts, TraceID: "1b671a64-40d5-491e-99b0-da01ff1f3341", Layer: log.LayerSRP, Category: log.CategoryMessage},
	}
	path := createTestLog(t, events)

	out := filepath.Join(t.TempDir(), "filtered.wlog")
	opts := FilterOptions{Output: out, TraceID: "7c9e6679"}
	if err := RunFilter(path, opts); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAllEvents(t, out)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.TraceID != "7c9e6679-7425-40de-944b-e07fc1f90ae7" {
			t.Errorf("unexpected trace ID: %s", ev.TraceID)
		}
	}
}

func TestFilterByLayerAndTime(t *testing.T) {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: base, Layer: log.LayerSRP, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 1, Opcode: dns.OpcodeUpdate}},
		{Timestamp: base.Add(time.Minute), Layer: log.LayerSRP, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 2, Opcode: dns.OpcodeUpdate}},
		{Timestamp: base.Add(time.Minute), Layer: log.LayerDNSSD, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 3}},
		{Timestamp: base.Add(2 * time.Minute), Layer: log.LayerSRP, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 4, Opcode: dns.OpcodeUpdate}},
	}
	path := createTestLog(t, events)

	out := filepath.Join(t.TempDir(), "filtered.wlog")
	opts := FilterOptions{
		Output:    out,
		Layer:     "srp",
		TimeStart: base.Add(30 * time.Second).Format(time.RFC3339),
		TimeEnd:   base.Add(90 * time.Second).Format(time.RFC3339),
	}
	if err := RunFilter(path, opts); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAllEvents(t, out)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].DNS == nil || got[0].DNS.MessageID != 2 {
		t.Errorf("wrong event survived the filter: %+v", got[0])
	}
}

func TestFilterByQName(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerDNSSD, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 1, QName: "_mesh._udp.default.service.arpa.", QType: u16Ptr(dns.TypePTR)}},
		{Timestamp: ts, Layer: log.LayerDNSSD, Category: log.CategoryMessage,
			DNS: &log.DNSEvent{MessageID: 2, QName: "_other._tcp.default.service.arpa.", QType: u16Ptr(dns.TypePTR)}},
	}
	path := createTestLog(t, events)

	out := filepath.Join(t.TempDir(), "filtered.wlog")
	if err := RunFilter(path, FilterOptions{Output: out, QName: "_mesh._udp.default.service.arpa."}); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	got := readAllEvents(t, out)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].DNS.MessageID != 1 {
		t.Errorf("wrong event survived the filter: %+v", got[0])
	}
}

func TestFilterInvalidArguments(t *testing.T) {
	path := createTestLog(t, nil)
	out := filepath.Join(t.TempDir(), "filtered.wlog")

	if err := RunFilter(path, FilterOptions{Output: out, TimeStart: "yesterday"}); err == nil {
		t.Error("expected error for malformed time-start")
	}
	if err := RunFilter(path, FilterOptions{Output: out, Layer: "wire"}); err == nil {
		t.Error("expected error for unknown layer")
	}
	if err := RunFilter(path, FilterOptions{Output: out, Direction: "sideways"}); err == nil {
		t.Error("expected error for unknown direction")
	}
}
