package rkl

// Checksum computes the RKL payload checksum: a 16-bit sum of bytes,
// modulo 2^16.
func Checksum(b []byte) uint16 {
	var sum uint32
	for _, c := range b {
		sum += uint32(c)
	}
	return uint16(sum & 0xFFFF)
}
