// Package log provides structured protocol logging for weft.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (SRP, DNS-SD, TCP, network data).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/weft/border.wlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    log.NewFileLogger("/var/log/weft/border.wlog"),
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - SRP / DNS-SD: Raw datagrams (PacketEvent) and decoded messages (DNSEvent)
//   - TCP: Segment summaries (SegmentEvent)
//   - All layers: State changes (StateChangeEvent) and errors (ErrorEventData)
//
// # File Format
//
// Log files use CBOR encoding with .wlog extension. The Reader type provides
// streaming decode with filtering.
package log
