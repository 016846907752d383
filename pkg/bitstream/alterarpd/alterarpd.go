// Package alterarpd reads Altera's .rpd raw programming data: a flat byte
// image, already LSB-oriented for direct EPCQ page programming.
package alterarpd

// Result is the parsed artifact.
type Result struct {
	Bits      []byte
	BitLength int
}

// Parse returns data unchanged; .rpd carries no header or metadata.
func Parse(data []byte) (*Result, error) {
	bits := make([]byte, len(data))
	copy(bits, data)
	return &Result{Bits: bits, BitLength: len(bits) * 8}, nil
}
