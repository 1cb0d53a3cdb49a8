package tcp

import (
	"errors"
	"net/netip"
)

// errBadChecksum reports a segment failing checksum verification.
var errBadChecksum = errors.New("bad checksum")

// protoTCP is the IPv6 next-header value for TCP.
const protoTCP = 6

// checksumOffset locates the checksum field within the header.
const checksumOffset = 16

func sumBytes(sum uint32, b []byte) uint32 {
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	return sum
}

func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return uint16(sum)
}

// pseudoHeaderSum computes the IPv6 pseudo-header contribution for a TCP
// payload of the given length.
func pseudoHeaderSum(src, dst netip.Addr, length int) uint32 {
	var sum uint32
	srcBytes := src.As16()
	dstBytes := dst.As16()
	sum = sumBytes(sum, srcBytes[:])
	sum = sumBytes(sum, dstBytes[:])
	sum += uint32(length)
	sum += protoTCP
	return sum
}

// fillChecksum computes the checksum of seg and stores it in place.
// The checksum field must be zero on entry.
func fillChecksum(src, dst netip.Addr, seg []byte) {
	sum := pseudoHeaderSum(src, dst, len(seg))
	sum = sumBytes(sum, seg)
	cs := ^foldChecksum(sum)
	seg[checksumOffset] = byte(cs >> 8)
	seg[checksumOffset+1] = byte(cs)
}

// verifyChecksum reports whether seg carries a valid checksum.
func verifyChecksum(src, dst netip.Addr, seg []byte) bool {
	if len(seg) < headerSize {
		return false
	}
	sum := pseudoHeaderSum(src, dst, len(seg))
	sum = sumBytes(sum, seg)
	return foldChecksum(sum) == 0xffff
}
