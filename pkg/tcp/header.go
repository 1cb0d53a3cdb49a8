package tcp

import (
	"encoding/binary"
	"errors"
	"strings"
)

// Parse errors. Segments failing to parse are dropped without a reply.
var (
	errShortSegment = errors.New("segment shorter than header")
	errBadOffset    = errors.New("bad data offset")
	errBadOption    = errors.New("malformed option")
)

// headerSize is the length of a header without options.
const headerSize = 20

// segmentFlags is the TCP flag byte.
type segmentFlags uint8

const (
	flagFIN segmentFlags = 1 << iota
	flagSYN
	flagRST
	flagPSH
	flagACK
	flagURG
)

// String returns the set flags joined by "|", or "none".
func (f segmentFlags) String() string {
	names := []struct {
		flag segmentFlags
		name string
	}{
		{flagSYN, "SYN"}, {flagACK, "ACK"}, {flagFIN, "FIN"},
		{flagRST, "RST"}, {flagPSH, "PSH"}, {flagURG, "URG"},
	}
	var set []string
	for _, n := range names {
		if f&n.flag != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}

// Option kinds understood on receive. Everything else is skipped.
const (
	optionEnd = 0
	optionNop = 1
	optionMSS = 2

	optionMSSLength = 4
)

// header is a parsed segment header. mss is zero when the option is absent.
type header struct {
	srcPort uint16
	dstPort uint16
	seq     Sequence
	ack     Sequence
	flags   segmentFlags
	window  uint16
	mss     uint16
}

// parseHeader decodes the header at the front of seg and returns it together
// with the data offset (the index of the first payload byte).
func parseHeader(seg []byte) (header, int, error) {
	if len(seg) < headerSize {
		return header{}, 0, errShortSegment
	}
	offset := int(seg[12]>>4) * 4
	if offset < headerSize || offset > len(seg) {
		return header{}, 0, errBadOffset
	}
	h := header{
		srcPort: binary.BigEndian.Uint16(seg[0:2]),
		dstPort: binary.BigEndian.Uint16(seg[2:4]),
		seq:     Sequence(binary.BigEndian.Uint32(seg[4:8])),
		ack:     Sequence(binary.BigEndian.Uint32(seg[8:12])),
		flags:   segmentFlags(seg[13]),
		window:  binary.BigEndian.Uint16(seg[14:16]),
	}

	opts := seg[headerSize:offset]
	for i := 0; i < len(opts); {
		switch opts[i] {
		case optionEnd:
			return h, offset, nil
		case optionNop:
			i++
		default:
			if i+1 >= len(opts) {
				return header{}, 0, errBadOption
			}
			length := int(opts[i+1])
			if length < 2 || i+length > len(opts) {
				return header{}, 0, errBadOption
			}
			if opts[i] == optionMSS && length == optionMSSLength {
				h.mss = binary.BigEndian.Uint16(opts[i+2 : i+4])
			}
			i += length
		}
	}
	return h, offset, nil
}

// packSegment assembles a segment from the header and payload. The MSS
// option is emitted only when h.mss is nonzero; the checksum field is
// computed by the caller.
func packSegment(h header, payload []byte) []byte {
	offset := headerSize
	if h.mss != 0 {
		offset += optionMSSLength
	}
	seg := make([]byte, offset+len(payload))
	binary.BigEndian.PutUint16(seg[0:2], h.srcPort)
	binary.BigEndian.PutUint16(seg[2:4], h.dstPort)
	binary.BigEndian.PutUint32(seg[4:8], uint32(h.seq))
	binary.BigEndian.PutUint32(seg[8:12], uint32(h.ack))
	seg[12] = byte(offset/4) << 4
	seg[13] = byte(h.flags)
	binary.BigEndian.PutUint16(seg[14:16], h.window)
	if h.mss != 0 {
		seg[headerSize] = optionMSS
		seg[headerSize+1] = optionMSSLength
		binary.BigEndian.PutUint16(seg[headerSize+2:headerSize+4], h.mss)
	}
	copy(seg[offset:], payload)
	return seg
}
