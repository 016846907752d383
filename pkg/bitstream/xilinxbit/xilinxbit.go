// Package xilinxbit parses Xilinx's .bit container: a big-endian TLV
// header (design/part/date/time/file-length fields) followed by the raw
// configuration payload, which is bit-reversed per byte before it is fed
// to the TAP (the FPGA is MSB-first, the wire is LSB-first).
package xilinxbit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Header holds the decoded metadata fields, keyed by their source letter.
type Header struct {
	DesignName  string
	UserID      string
	ToolVersion string
	PartName    string
	Date        string
	Time        string
	FileLength  uint32
}

// Result is the parsed artifact.
type Result struct {
	Header    Header
	Bits      []byte // bit-reversed payload, ready for Shift-DR
	BitLength int
}

func reverseByte(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

func readU16BE(r *bytes.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("xilinxbit: %w: %v", errs.ErrParse, err)
	}
	return v, nil
}

func readField(r *bytes.Reader) (key byte, value []byte, err error) {
	key, err = r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("xilinxbit: %w: %v", errs.ErrParse, err)
	}
	var length int
	if key == 'e' {
		length = 4
	} else {
		l, err := readU16BE(r)
		if err != nil {
			return 0, nil, err
		}
		length = int(l)
	}
	buf := make([]byte, length)
	if _, err := r.Read(buf); err != nil {
		return 0, nil, fmt.Errorf("xilinxbit: field %c payload: %w: %v", key, errs.ErrParse, err)
	}
	return key, buf, nil
}

// Parse decodes a .bit file. The first field (length-prefixed, skipped
// outright) is the vendor's tool-internal header; fields 'a' through 'e'
// follow in order, after which the remainder of the file is the payload.
func Parse(data []byte) (*Result, error) {
	r := bytes.NewReader(data)
	skipLen, err := readU16BE(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(int64(skipLen), 1); err != nil {
		return nil, fmt.Errorf("xilinxbit: skip header: %w: %v", errs.ErrParse, err)
	}
	if _, err := readU16BE(r); err != nil {
		return nil, err
	}

	var hdr Header
	for i := 0; i < 5; i++ {
		key, value, err := readField(r)
		if err != nil {
			return nil, err
		}
		switch key {
		case 'a':
			parts := strings.SplitN(strings.TrimRight(string(value), "\x00"), ";", 3)
			if len(parts) > 0 {
				hdr.DesignName = parts[0]
			}
			if len(parts) > 1 {
				hdr.UserID = parts[1]
			}
			if len(parts) > 2 {
				hdr.ToolVersion = parts[2]
			}
		case 'b':
			hdr.PartName = strings.TrimRight(string(value), "\x00")
		case 'c':
			hdr.Date = strings.TrimRight(string(value), "\x00")
		case 'd':
			hdr.Time = strings.TrimRight(string(value), "\x00")
		case 'e':
			hdr.FileLength = binary.BigEndian.Uint32(value)
		default:
			return nil, fmt.Errorf("xilinxbit: unexpected field key %q: %w", key, errs.ErrParse)
		}
	}

	payload := make([]byte, hdr.FileLength)
	n, err := r.Read(payload)
	if err != nil && n != int(hdr.FileLength) {
		return nil, fmt.Errorf("xilinxbit: read payload: %w: %v", errs.ErrParse, err)
	}
	if uint32(n) != hdr.FileLength {
		return nil, fmt.Errorf("xilinxbit: payload length %d, header declared %d: %w", n, hdr.FileLength, errs.ErrParse)
	}

	bits := make([]byte, len(payload))
	for i, b := range payload {
		bits[i] = reverseByte(b)
	}

	return &Result{Header: hdr, Bits: bits, BitLength: len(bits) * 8}, nil
}
