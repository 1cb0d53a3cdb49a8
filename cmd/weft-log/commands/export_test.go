package commands

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
)

func TestExportJSONL(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp: ts,
			TraceID:   "trace-1234",
			Direction: log.DirectionIn,
			Layer:     log.LayerSRP,
			Category:  log.CategoryMessage,
			DNS:       &log.DNSEvent{MessageID: 42, Opcode: dns.OpcodeUpdate, QName: "default.service.arpa."},
		},
		{
			Timestamp: ts.Add(time.Second),
			Direction: log.DirectionOut,
			Layer:     log.LayerTCP,
			Category:  log.CategoryMessage,
			Segment:   &log.SegmentEvent{LocalPort: 7, PeerPort: 49152, Flags: "SYN|ACK"},
		},
	}
	path := createTestLog(t, events)

	out := filepath.Join(t.TempDir(), "out.jsonl")
	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"TraceID":"trace-1234"`) {
		t.Errorf("first line missing trace ID: %s", lines[0])
	}
	if !strings.Contains(lines[0], `"QName":"default.service.arpa."`) {
		t.Errorf("first line missing zone name: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"Flags":"SYN|ACK"`) {
		t.Errorf("second line missing segment flags: %s", lines[1])
	}
}

func TestExportCSV(t *testing.T) {
	ts := time.Date(2026, 2, 3, 10, 0, 0, 123456000, time.UTC)
	events := []log.Event{
		{
			Timestamp:  ts,
			TraceID:    "trace-1234",
			Direction:  log.DirectionOut,
			Layer:      log.LayerSRP,
			Category:   log.CategoryMessage,
			RemoteAddr: "[fd00::17]:49152",
			DNS: &log.DNSEvent{
				MessageID: 42,
				Opcode:    dns.OpcodeUpdate,
				QName:     "default.service.arpa.",
				Rcode:     intPtr(dns.RcodeSuccess),
			},
		},
		{
			Timestamp: ts.Add(time.Second),
			Layer:     log.LayerSRP,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityHost, Name: "lamp.default.service.arpa.",
				NewState: "active",
			},
		},
		{
			Timestamp: ts.Add(2 * time.Second),
			Layer:     log.LayerTCP,
			Category:  log.CategoryMessage,
			Segment:   &log.SegmentEvent{LocalPort: 7, PeerPort: 49152},
		},
	}
	path := createTestLog(t, events)

	out := filepath.Join(t.TempDir(), "out.csv")
	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parsing CSV: %v", err)
	}

	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d records", len(records))
	}
	if records[0][0] != "timestamp" || records[0][8] != "rcode" {
		t.Errorf("unexpected header: %v", records[0])
	}

	first := records[1]
	if first[0] != "2026-02-03T10:00:00.123456Z" {
		t.Errorf("unexpected timestamp: %s", first[0])
	}
	if first[1] != "trace-1234" || first[3] != "SRP" || first[6] != "Response" || first[8] != "NOERROR" {
		t.Errorf("unexpected DNS row: %v", first)
	}
	if records[2][7] != "lamp.default.service.arpa." {
		t.Errorf("unexpected state row name: %v", records[2])
	}
	if records[3][7] != "7->49152" {
		t.Errorf("unexpected segment row name: %v", records[3])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLog(t, nil)
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
