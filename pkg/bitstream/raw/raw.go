// Package raw handles opaque binary images that carry no bitstream
// container of their own: pre-packed SPI flash dumps, NVCM images taken
// directly from a donor device, and any other blob a caller already knows
// how to address.
package raw

// Result is the parsed artifact.
type Result struct {
	Bits      []byte
	BitLength int
}

// Parse copies data unchanged, optionally reversing each byte's bit order
// when the caller knows the wire orientation differs from the file's.
func Parse(data []byte, reverseBits bool) (*Result, error) {
	bits := make([]byte, len(data))
	if reverseBits {
		for i, b := range data {
			var r byte
			for j := 0; j < 8; j++ {
				r <<= 1
				r |= b & 1
				b >>= 1
			}
			bits[i] = r
		}
	} else {
		copy(bits, data)
	}
	return &Result{Bits: bits, BitLength: len(bits) * 8}, nil
}
