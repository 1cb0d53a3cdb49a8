package log

import (
	"github.com/rs/zerolog"
)

// ZerologAdapter writes protocol events to a zerolog.Logger.
// An alternative to SlogAdapter for applications already using zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a new ZerologAdapter that writes to the given logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log writes the event to the zerolog logger at Debug level.
func (a *ZerologAdapter) Log(event Event) {
	e := a.logger.Debug().
		Str("direction", event.Direction.String()).
		Str("layer", event.Layer.String()).
		Str("category", event.Category.String())

	if event.TraceID != "" {
		e = e.Str("trace_id", event.TraceID)
	}
	if event.RemoteAddr != "" {
		e = e.Str("remote", event.RemoteAddr)
	}

	switch {
	case event.Packet != nil:
		e = e.Int("packet_size", event.Packet.Size).
			Bool("truncated", event.Packet.Truncated)
	case event.DNS != nil:
		e = e.Uint16("msg_id", event.DNS.MessageID).
			Int("opcode", event.DNS.Opcode)
		if event.DNS.QName != "" {
			e = e.Str("qname", event.DNS.QName)
		}
		if event.DNS.QType != nil {
			e = e.Uint16("qtype", *event.DNS.QType)
		}
		if event.DNS.Rcode != nil {
			e = e.Int("rcode", *event.DNS.Rcode)
		}
		if event.DNS.AnswerCount != nil {
			e = e.Int("answers", *event.DNS.AnswerCount)
		}
		if event.DNS.Lease != nil {
			e = e.Uint32("lease", *event.DNS.Lease)
		}
		if event.DNS.KeyLease != nil {
			e = e.Uint32("key_lease", *event.DNS.KeyLease)
		}
	case event.Segment != nil:
		e = e.Uint16("local_port", event.Segment.LocalPort).
			Uint16("peer_port", event.Segment.PeerPort).
			Uint32("seq", event.Segment.Seq).
			Uint32("ack", event.Segment.Ack).
			Str("flags", event.Segment.Flags).
			Int("len", event.Segment.Length)
		if event.Segment.State != "" {
			e = e.Str("state", event.Segment.State)
		}
	case event.StateChange != nil:
		e = e.Str("entity", event.StateChange.Entity.String()).
			Str("old_state", event.StateChange.OldState).
			Str("new_state", event.StateChange.NewState)
		if event.StateChange.Name != "" {
			e = e.Str("name", event.StateChange.Name)
		}
		if event.StateChange.Reason != "" {
			e = e.Str("reason", event.StateChange.Reason)
		}
	case event.Error != nil:
		e = e.Str("error_layer", event.Error.Layer.String()).
			Str("error_msg", event.Error.Message).
			Str("error_context", event.Error.Context)
		if event.Error.Code != nil {
			e = e.Int("error_code", *event.Error.Code)
		}
	}

	e.Msg("protocol")
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
