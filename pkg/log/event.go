package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// TraceID correlates related events (UUID). For SRP it spans one update
	// from receipt to response; for DNS-SD one query; for TCP one endpoint.
	TraceID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Packet      *PacketEvent      `cbor:"10,keyasint,omitempty"` // Raw datagram or segment
	DNS         *DNSEvent         `cbor:"11,keyasint,omitempty"` // Decoded DNS message
	Segment     *SegmentEvent     `cbor:"12,keyasint,omitempty"` // TCP segment summary
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Host/service/endpoint state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerSRP is the service registration protocol layer.
	LayerSRP Layer = 0
	// LayerDNSSD is the DNS-SD responder layer.
	LayerDNSSD Layer = 1
	// LayerTCP is the TCP transport layer.
	LayerTCP Layer = 2
	// LayerNetData is the network-data registry layer.
	LayerNetData Layer = 3
	// LayerService is the composed router-service layer.
	LayerService Layer = 4
	// LayerTransport is the UDP socket layer beneath SRP and DNS-SD.
	LayerTransport Layer = 5
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSRP:
		return "SRP"
	case LayerDNSSD:
		return "DNSSD"
	case LayerTCP:
		return "TCP"
	case LayerNetData:
		return "NETDATA"
	case LayerService:
		return "SERVICE"
	case LayerTransport:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (update/query/segment).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PacketEvent captures raw packet data below the DNS or TCP parser.
type PacketEvent struct {
	// Size is the packet size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw packet bytes (may be truncated for large packets).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// DNSEvent captures a decoded DNS message at the SRP or DNS-SD layer.
type DNSEvent struct {
	// MessageID is the DNS header identifier.
	MessageID uint16 `cbor:"1,keyasint"`

	// Opcode is the DNS opcode (QUERY=0, UPDATE=5).
	Opcode int `cbor:"2,keyasint"`

	// Rcode is the response code (responses only).
	Rcode *int `cbor:"3,keyasint,omitempty"`

	// QName is the first question or zone name.
	QName string `cbor:"4,keyasint,omitempty"`

	// QType is the first question type (queries only).
	QType *uint16 `cbor:"5,keyasint,omitempty"`

	// AnswerCount is the number of answer records (responses only).
	AnswerCount *int `cbor:"6,keyasint,omitempty"`

	// Lease is the granted lease in seconds (SRP responses only).
	Lease *uint32 `cbor:"7,keyasint,omitempty"`

	// KeyLease is the granted key lease in seconds (SRP responses only).
	KeyLease *uint32 `cbor:"8,keyasint,omitempty"`
}

// SegmentEvent captures a TCP segment summary.
type SegmentEvent struct {
	// LocalPort is the local endpoint port.
	LocalPort uint16 `cbor:"1,keyasint"`

	// PeerPort is the remote endpoint port.
	PeerPort uint16 `cbor:"2,keyasint"`

	// Seq is the segment sequence number.
	Seq uint32 `cbor:"3,keyasint"`

	// Ack is the acknowledgment number.
	Ack uint32 `cbor:"4,keyasint"`

	// Flags is the segment flag string (e.g. "SYN|ACK").
	Flags string `cbor:"5,keyasint"`

	// Window is the advertised receive window.
	Window uint16 `cbor:"6,keyasint"`

	// Length is the payload length in bytes.
	Length int `cbor:"7,keyasint"`

	// State is the endpoint state when the segment was handled.
	State string `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures host, service and endpoint lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// Name identifies the entity (full DNS name or endpoint ports).
	Name string `cbor:"2,keyasint,omitempty"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"3,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"4,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityHost indicates an SRP host state change.
	StateEntityHost StateEntity = 0
	// StateEntityServiceInstance indicates an SRP service state change.
	StateEntityServiceInstance StateEntity = 1
	// StateEntityEndpoint indicates a TCP endpoint state change.
	StateEntityEndpoint StateEntity = 2
	// StateEntityServer indicates a server lifecycle change.
	StateEntityServer StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityHost:
		return "HOST"
	case StateEntityServiceInstance:
		return "SERVICE"
	case StateEntityEndpoint:
		return "ENDPOINT"
	case StateEntityServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (DNS RCODE if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
