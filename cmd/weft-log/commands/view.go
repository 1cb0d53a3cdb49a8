// Package commands implements the weft-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	trace := shortenTrace(event.TraceID)
	dir := event.Direction.String()

	fmt.Fprintf(w, "%s [%s] %-3s %-9s %s\n", ts, trace, dir, event.Layer, typeLabel(event))
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Packet != nil:
		formatPacketDetails(w, event.Packet)
	case event.DNS != nil:
		formatDNSDetails(w, event.DNS)
	case event.Segment != nil:
		formatSegmentDetails(w, event.Segment)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// typeLabel names the event for the header line.
func typeLabel(event log.Event) string {
	switch {
	case event.Packet != nil:
		return "Packet"
	case event.DNS != nil:
		if event.DNS.Rcode != nil {
			return "Response"
		}
		if event.DNS.Opcode == dns.OpcodeUpdate {
			return "Update"
		}
		return "Query"
	case event.Segment != nil:
		return "Segment"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenTrace returns the first 8 characters of the trace ID.
func shortenTrace(id string) string {
	if id == "" {
		return "--------"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatPacketDetails(w io.Writer, pkt *log.PacketEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", pkt.Size)
	if len(pkt.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(pkt.Data))
		if pkt.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatDNSDetails(w io.Writer, d *log.DNSEvent) {
	fmt.Fprintf(w, "  MessageID: %d\n", d.MessageID)
	if d.QName != "" {
		if d.QType != nil {
			fmt.Fprintf(w, "  Name: %s %s\n", d.QName, dns.TypeToString[*d.QType])
		} else {
			fmt.Fprintf(w, "  Name: %s\n", d.QName)
		}
	}
	if d.Rcode != nil {
		fmt.Fprintf(w, "  Rcode: %s\n", dns.RcodeToString[*d.Rcode])
	}
	if d.AnswerCount != nil {
		fmt.Fprintf(w, "  Answers: %d\n", *d.AnswerCount)
	}
	if d.Lease != nil {
		fmt.Fprintf(w, "  Lease: %ds", *d.Lease)
		if d.KeyLease != nil {
			fmt.Fprintf(w, ", key %ds", *d.KeyLease)
		}
		fmt.Fprintln(w)
	}
}

func formatSegmentDetails(w io.Writer, seg *log.SegmentEvent) {
	fmt.Fprintf(w, "  Ports: %d -> %d\n", seg.LocalPort, seg.PeerPort)
	fmt.Fprintf(w, "  Seq: %d Ack: %d Flags: %s Win: %d Len: %d\n",
		seg.Seq, seg.Ack, seg.Flags, seg.Window, seg.Length)
	if seg.State != "" {
		fmt.Fprintf(w, "  State: %s\n", seg.State)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s %s\n", sc.Entity, sc.Name)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from a command-line flag
// (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "srp":
		return log.LayerSRP, nil
	case "dnssd":
		return log.LayerDNSSD, nil
	case "tcp":
		return log.LayerTCP, nil
	case "netdata":
		return log.LayerNetData, nil
	case "service":
		return log.LayerService, nil
	case "transport":
		return log.LayerTransport, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be srp, dnssd, tcp, netdata, service, or transport)", s)
	}
}

// ParseDirectionFlag parses a direction string from a command-line
// flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from a command-line flag
// (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		if filter.Layer != nil && event.Layer != *filter.Layer {
			continue
		}
		if filter.Direction != nil && event.Direction != *filter.Direction {
			continue
		}
		if filter.Category != nil && event.Category != *filter.Category {
			continue
		}

		formatEvent(output, event)
	}

	return nil
}
