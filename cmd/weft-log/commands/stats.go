package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/miekg/dns"

	"github.com/weft-protocol/weft-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int

	Updates   int
	Queries   int
	Responses int
	Segments  int
	Rcodes    map[int]int

	Hosts  map[string]struct{}
	Errors int

	TimeRange struct {
		Start time.Time
		End   time.Time
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Rcodes:            make(map[int]int),
		Hosts:             make(map[string]struct{}),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if d := event.DNS; d != nil {
			switch {
			case d.Rcode != nil:
				stats.Responses++
				stats.Rcodes[*d.Rcode]++
			case d.Opcode == dns.OpcodeUpdate:
				stats.Updates++
			default:
				stats.Queries++
			}
		}
		if event.Segment != nil {
			stats.Segments++
		}
		if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityHost {
			stats.Hosts[sc.Name] = struct{}{}
		}
		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Weft Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	layers := []log.Layer{
		log.LayerSRP, log.LayerDNSSD, log.LayerTCP,
		log.LayerNetData, log.LayerService, log.LayerTransport,
	}
	for _, layer := range layers {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "DNS Messages: %d updates, %d queries, %d responses\n",
		stats.Updates, stats.Queries, stats.Responses)
	if len(stats.Rcodes) > 0 {
		rcodes := make([]int, 0, len(stats.Rcodes))
		for rc := range stats.Rcodes {
			rcodes = append(rcodes, rc)
		}
		sort.Ints(rcodes)
		fmt.Fprintln(w, "Response Codes:")
		for _, rc := range rcodes {
			fmt.Fprintf(w, "  %-12s %d\n", dns.RcodeToString[rc]+":", stats.Rcodes[rc])
		}
	}
	if stats.Segments > 0 {
		fmt.Fprintf(w, "TCP Segments: %d\n", stats.Segments)
	}

	if len(stats.Hosts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Hosts Seen: %d\n", len(stats.Hosts))
		names := make([]string, 0, len(stats.Hosts))
		for name := range stats.Hosts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
