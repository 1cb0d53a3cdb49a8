package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	// Add optional identifiers
	if event.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", event.TraceID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	// Add type-specific attributes
	switch {
	case event.Packet != nil:
		attrs = append(attrs,
			slog.Int("packet_size", event.Packet.Size),
			slog.Bool("truncated", event.Packet.Truncated),
		)
	case event.DNS != nil:
		attrs = append(attrs,
			slog.Uint64("msg_id", uint64(event.DNS.MessageID)),
			slog.Int("opcode", event.DNS.Opcode),
		)
		if event.DNS.QName != "" {
			attrs = append(attrs, slog.String("qname", event.DNS.QName))
		}
		if event.DNS.QType != nil {
			attrs = append(attrs, slog.Uint64("qtype", uint64(*event.DNS.QType)))
		}
		if event.DNS.Rcode != nil {
			attrs = append(attrs, slog.Int("rcode", *event.DNS.Rcode))
		}
		if event.DNS.AnswerCount != nil {
			attrs = append(attrs, slog.Int("answers", *event.DNS.AnswerCount))
		}
		if event.DNS.Lease != nil {
			attrs = append(attrs, slog.Uint64("lease", uint64(*event.DNS.Lease)))
		}
		if event.DNS.KeyLease != nil {
			attrs = append(attrs, slog.Uint64("key_lease", uint64(*event.DNS.KeyLease)))
		}
	case event.Segment != nil:
		attrs = append(attrs,
			slog.Uint64("local_port", uint64(event.Segment.LocalPort)),
			slog.Uint64("peer_port", uint64(event.Segment.PeerPort)),
			slog.Uint64("seq", uint64(event.Segment.Seq)),
			slog.Uint64("ack", uint64(event.Segment.Ack)),
			slog.String("flags", event.Segment.Flags),
			slog.Int("len", event.Segment.Length),
		)
		if event.Segment.State != "" {
			attrs = append(attrs, slog.String("state", event.Segment.State))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Name != "" {
			attrs = append(attrs, slog.String("name", event.StateChange.Name))
		}
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
