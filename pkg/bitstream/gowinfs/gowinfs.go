// Package gowinfs parses Gowin's ASCII .fs bitstream format: one '0'/'1'
// character per configuration bit, preceded by a block of header lines
// each starting with a 7-bit key packed into the first byte of the line.
package gowinfs

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// linesPerIDCode is the §4.3a table: expected data-line count per Gowin
// part, used to bound the checksum window (TN653).
var linesPerIDCode = map[uint32]int{
	0x0900281b: 274, 0x0900381b: 274, 0x0100681b: 274,
	0x0100181b: 494, 0x1100181b: 494, 0x0300081b: 494, 0x0300181b: 494,
	0x0100981b: 494, 0x0100381b: 494, 0x1100381b: 494,
	0x0100481b: 712, 0x1100481b: 712, 0x0100581b: 712, 0x1100581b: 712,
	0x0000081b: 1342,
	0x0000281b: 2038,
}

// Header carries the decoded key/value pairs a caller might want to
// display (§4.3), independent of what feeds the checksum computation.
type Header struct {
	IDCode         uint32
	DeclaredCheck  uint16
	SecurityBit    bool
	LoadingRate    int
	Compressed     bool
	ProgramDoneBp  bool
	Z8, Z4, Z2     byte
	SPIAddr        uint32
	CRCCheck       bool
	ConfDataLength int
}

// Result is the parsed artifact: the whole-file bitstream (header lines
// included, since Gowin shifts the header verbatim into the TAP along with
// the payload) plus the metadata needed for post-program verification.
type Result struct {
	Header           Header
	Bits             []byte // byte-per-line-octet raw data, optionally bit-reversed
	BitLength        int
	ComputedChecksum uint16
}

func bitsToVal(s string) uint64 {
	var v uint64
	for i := 0; i < len(s); i++ {
		v <<= 1
		if s[i] == '1' {
			v |= 1
		}
	}
	return v
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

// Parse decodes a Gowin .fs image. reverseBits controls whether each
// decoded byte is bit-reversed before being appended to Bits (the wire
// requires reversal when the target device's TAP expects LSB-first bytes).
func Parse(data []byte, reverseBits bool) (*Result, error) {
	lines := make([]string, 0, 2048)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "/") {
			continue
		}
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gowinfs: scan: %w: %v", errs.ErrParse, err)
	}

	var hdr Header
	endHeader := -1
	inHeader := true
	for i, line := range lines {
		if !inHeader {
			continue
		}
		if len(line) < 8 {
			continue
		}
		c := byte(bitsToVal(line[:8]))
		key := c & 0x7F
		val := bitsToVal(line)

		switch key {
		case 0x06:
			hdr.IDCode = uint32(val)
		case 0x0A:
			hdr.DeclaredCheck = uint16(val)
		case 0x0B:
			hdr.SecurityBit = true
		case 0x10:
			hdr.LoadingRate = int((val >> 16) & 0xff)
			hdr.Compressed = (val>>13)&1 != 0
			hdr.ProgramDoneBp = (val>>12)&1 != 0
		case 0x51:
			hdr.Z8 = byte((val >> 16) & 0xff)
			hdr.Z4 = byte((val >> 8) & 0xff)
			hdr.Z2 = byte(val & 0xff)
		case 0x52:
			hdr.SPIAddr = uint32(val & 0xffffffff)
		case 0x3B:
			hdr.CRCCheck = (val>>23)&1 != 0
			hdr.ConfDataLength = int(val & 0xffff)
			endHeader = i
			inHeader = false
		}
	}
	if endHeader < 0 {
		return nil, fmt.Errorf("gowinfs: no terminating header line (key 0x3B found): %w", errs.ErrParse)
	}

	// Whole-file raw bits: every line (header included) packed 8 chars per
	// byte, matching what actually gets shifted into the TAP.
	var raw bytes.Buffer
	for _, line := range lines {
		for i := 0; i+8 <= len(line); i += 8 {
			b := byte(bitsToVal(line[i : i+8]))
			if reverseBits {
				b = reverseByte(b)
			}
			raw.WriteByte(b)
		}
	}

	nbLine := linesPerIDCode[hdr.IDCode]
	padding := 0
	if nbLine == 712 {
		padding = 4
		if hdr.Compressed {
			padding += 5 * 8
		}
	}
	if hdr.ConfDataLength < nbLine {
		nbLine = hdr.ConfDataLength
	}

	dataLines := lines[endHeader+1:]
	if nbLine < len(dataLines) {
		dataLines = dataLines[:nbLine]
	}

	drop := 6 * 8
	if hdr.CRCCheck {
		drop += 2 * 8
	}

	var payload strings.Builder
	for _, line := range dataLines {
		var l string
		if hdr.Compressed {
			var b strings.Builder
			limit := len(line) - drop
			for i := 0; i+8 <= limit; i += 8 {
				c := byte(bitsToVal(line[i : i+8]))
				switch c {
				case hdr.Z8:
					b.WriteString(strings.Repeat("0", 8*8))
				case hdr.Z4:
					b.WriteString(strings.Repeat("0", 4*8))
				case hdr.Z2:
					b.WriteString(strings.Repeat("0", 2*8))
				default:
					b.WriteString(line[i : i+8])
				}
			}
			l = b.String()
		} else {
			if len(line) < drop {
				continue
			}
			l = line[:len(line)-drop]
		}
		if padding <= len(l) {
			payload.WriteString(l[padding:])
		}
	}

	sum := payload.String()
	var checksum uint16
	for pos := 0; pos+16 <= len(sum); pos += 16 {
		checksum += uint16(bitsToVal(sum[pos : pos+16]))
	}

	return &Result{
		Header:           hdr,
		Bits:             raw.Bytes(),
		BitLength:        raw.Len() * 8,
		ComputedChecksum: checksum,
	}, nil
}

// VerifyChecksum reports whether the header's declared checksum matches
// the computed one, the condition §4.3/§8-S2 calls "Success".
func (r *Result) VerifyChecksum() bool {
	return r.Header.DeclaredCheck == r.ComputedChecksum
}
