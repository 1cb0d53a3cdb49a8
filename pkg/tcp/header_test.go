package tcp

import (
	"errors"
	"net/netip"
	"testing"
)

func TestParseHeaderMSSOption(t *testing.T) {
	seg := packSegment(header{
		srcPort: 49152, dstPort: 7,
		seq: 1000, flags: flagSYN, window: 4096, mss: MaxSegmentSize,
	}, nil)

	h, off, err := parseHeader(seg)
	if err != nil {
		t.Fatalf("parseHeader() error = %v", err)
	}
	if h.mss != MaxSegmentSize {
		t.Errorf("mss = %d, want %d", h.mss, MaxSegmentSize)
	}
	if off != len(seg) {
		t.Errorf("data offset = %d, want %d", off, len(seg))
	}
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	t.Run("short segment", func(t *testing.T) {
		if _, _, err := parseHeader(make([]byte, headerSize-1)); !errors.Is(err, errShortSegment) {
			t.Errorf("error = %v, want errShortSegment", err)
		}
	})

	t.Run("data offset beyond segment", func(t *testing.T) {
		seg := packSegment(header{srcPort: 1, dstPort: 2, flags: flagACK}, nil)
		seg[12] = 0xf0
		if _, _, err := parseHeader(seg); !errors.Is(err, errBadOffset) {
			t.Errorf("error = %v, want errBadOffset", err)
		}
	})

	t.Run("truncated option", func(t *testing.T) {
		seg := packSegment(header{srcPort: 1, dstPort: 2, flags: flagSYN, mss: 1220}, nil)
		seg[headerSize+1] = 0 // option length below minimum
		if _, _, err := parseHeader(seg); !errors.Is(err, errBadOption) {
			t.Errorf("error = %v, want errBadOption", err)
		}
	})
}

func TestFlagsString(t *testing.T) {
	if got := (flagSYN | flagACK).String(); got != "SYN|ACK" {
		t.Errorf("String() = %q, want SYN|ACK", got)
	}
	if got := segmentFlags(0).String(); got != "none" {
		t.Errorf("String() = %q, want none", got)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	seg := packSegment(header{
		srcPort: 49152, dstPort: 7,
		seq: 42, ack: 99, flags: flagACK | flagPSH, window: 1220,
	}, []byte("odd length payload!"))

	fillChecksum(addrA, addrB, seg)
	if !verifyChecksum(addrA, addrB, seg) {
		t.Fatal("checksum did not verify")
	}
	if verifyChecksum(addrA, netip.MustParseAddr("fd00::3"), seg) {
		t.Error("checksum verified with the wrong destination")
	}
	seg[len(seg)-1] ^= 0x01
	if verifyChecksum(addrA, addrB, seg) {
		t.Error("checksum verified corrupt payload")
	}
}
