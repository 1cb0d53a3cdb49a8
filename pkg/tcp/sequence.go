package tcp

// Sequence is a TCP sequence number. Ordering is defined by the sign of the
// 32-bit difference, so comparisons stay correct across wraparound.
type Sequence uint32

// Add returns the sequence advanced by n.
func (s Sequence) Add(n int) Sequence {
	return s + Sequence(uint32(n))
}

// Diff returns the signed distance from o to s.
func (s Sequence) Diff(o Sequence) int32 {
	return int32(s - o)
}

// Before reports whether s orders strictly before o.
func (s Sequence) Before(o Sequence) bool {
	return int32(s-o) < 0
}

// After reports whether s orders strictly after o.
func (s Sequence) After(o Sequence) bool {
	return int32(s-o) > 0
}
