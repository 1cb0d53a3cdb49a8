package dnsname

import (
	"errors"
)

// ErrTXTTooLong indicates a TXT string exceeds 255 bytes.
var ErrTXTTooLong = errors.New("txt string exceeds 255 bytes")

// ErrTXTTruncated indicates a TXT blob ends mid string.
var ErrTXTTruncated = errors.New("txt data truncated")

// PackTXT encodes TXT strings into the wire blob stored with SRP services:
// each string prefixed by its length byte. An empty set encodes as a single
// zero byte, matching the empty TXT record convention.
func PackTXT(strs []string) ([]byte, error) {
	if len(strs) == 0 {
		return []byte{0}, nil
	}

	var out []byte
	for _, s := range strs {
		if len(s) > 255 {
			return nil, ErrTXTTooLong
		}
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out, nil
}

// UnpackTXT decodes a TXT wire blob into its strings. A blob holding only an
// empty string decodes to nil.
func UnpackTXT(data []byte) ([]string, error) {
	var strs []string
	for len(data) > 0 {
		n := int(data[0])
		data = data[1:]
		if n > len(data) {
			return nil, ErrTXTTruncated
		}
		if n > 0 {
			strs = append(strs, string(data[:n]))
		}
		data = data[n:]
	}
	return strs, nil
}
