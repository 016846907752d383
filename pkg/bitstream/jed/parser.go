// Package jed decodes Lattice JEDEC (.jed) fuse maps: an STX/ETX-framed
// text format whose records are tag-prefixed and star-terminated, with a
// trailing declared checksum validated against a byte-reversed sum over
// the packed fuse bitstream.
package jed

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// record is one star-terminated body between STX and ETX. Decoding the
// leading tag and payload is left to Parse: the directive vocabulary is
// too heterogeneous (fixed fields, free-form notes, multi-line fuse runs)
// for participle's struct tags to carry usefully.
type record struct {
	Body string `@Body "*"`
}

type jedFile struct {
	STX     string    `@STX?`
	Records []*record `@@*`
	ETX     string    `@ETX`
}

var jedParser = participle.MustBuild[jedFile](participle.Lexer(jedLexer))

// Header holds the decoded device and fuse-map metadata.
type Header struct {
	DeviceQualifier string
	FuseCount       int // QF
	PinCount        int // QP
	TestVectors     int // QV
	DeclaredCheck   uint16
	Notes           []string
	FeatureRow      []bool // E<bits>: feabits/feature-row, written before fuse programming
}

// Result is the parsed artifact: the packed fuse bitstream, LSB-first
// within each byte (fuse i is bit i%8 of byte i/8), plus the header fields the
// original parser surfaces to callers.
type Result struct {
	Header     Header
	Bits       []byte
	BitLength  int
	FeatureRow []bool // feabits/feature-row bits, nil if the file had no E record
}

// Parse decodes a JEDEC byte stream and verifies its checksum.
func Parse(data []byte) (*Result, error) {
	var f jedFile
	if err := jedParser.ParseBytes("", data, &f); err != nil {
		return nil, fmt.Errorf("jed: %w: %v", errs.ErrParse, err)
	}

	var hdr Header
	var fuseBits strings.Builder // raw '0'/'1' characters, in declared-fuse order
	var declaredOK bool

	for _, rec := range f.Records {
		body := rec.Body
		if body == "" {
			continue
		}
		tag := body[0]
		rest := strings.TrimSpace(body[1:])

		switch tag {
		case 'Q':
			if len(rest) == 0 {
				continue
			}
			switch rest[0] {
			case 'F':
				n, err := strconv.Atoi(strings.TrimSpace(rest[1:]))
				if err != nil {
					return nil, fmt.Errorf("jed: bad QF field %q: %w", rest, errs.ErrParse)
				}
				hdr.FuseCount = n
			case 'P':
				n, _ := strconv.Atoi(strings.TrimSpace(rest[1:]))
				hdr.PinCount = n
			case 'V':
				n, _ := strconv.Atoi(strings.TrimSpace(rest[1:]))
				hdr.TestVectors = n
			}
		case 'N':
			hdr.Notes = append(hdr.Notes, rest)
		case 'L':
			// L<start addr> <fuse bits, possibly spanning physical lines>
			fields := strings.Fields(rest)
			if len(fields) < 2 {
				return nil, fmt.Errorf("jed: malformed L record %q: %w", body, errs.ErrParse)
			}
			for _, bit := range fields[1:] {
				for _, ch := range bit {
					if ch != '0' && ch != '1' {
						continue
					}
					fuseBits.WriteRune(ch)
				}
			}
		case 'C':
			v, err := strconv.ParseUint(strings.TrimSpace(rest), 16, 16)
			if err != nil {
				return nil, fmt.Errorf("jed: bad checksum field %q: %w", rest, errs.ErrParse)
			}
			hdr.DeclaredCheck = uint16(v)
			declaredOK = true
		case 'E':
			// E<bits>: feabits/feature-row, shifted into the device before
			// fuse programming (spec.md §4.4 Lattice sequence).
			for _, ch := range rest {
				switch ch {
				case '0':
					hdr.FeatureRow = append(hdr.FeatureRow, false)
				case '1':
					hdr.FeatureRow = append(hdr.FeatureRow, true)
				}
			}
		case 'G', 'F', 'J', 'U', 'X':
			// device architecture / security / usercode fields: consumed
			// by the original for device-specific setup, irrelevant to a
			// straight SRAM/NVCM fuse load.
		}
	}

	if hdr.FuseCount == 0 {
		return nil, fmt.Errorf("jed: missing QF fuse count: %w", errs.ErrParse)
	}
	if fuseBits.Len() < hdr.FuseCount {
		return nil, fmt.Errorf("jed: got %d fuse bits, QF declared %d: %w", fuseBits.Len(), hdr.FuseCount, errs.ErrParse)
	}
	if !declaredOK {
		return nil, fmt.Errorf("jed: missing checksum field: %w", errs.ErrParse)
	}

	bitstring := fuseBits.String()[:hdr.FuseCount]
	bits, computed := packFuses(bitstring)
	if computed != hdr.DeclaredCheck {
		return nil, fmt.Errorf("jed: checksum mismatch: computed %#04x, declared %#04x: %w", computed, hdr.DeclaredCheck, errs.ErrParse)
	}

	return &Result{Header: hdr, Bits: bits, BitLength: hdr.FuseCount, FeatureRow: hdr.FeatureRow}, nil
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

// packFuses packs a string of '0'/'1' characters into bytes (pad with
// trailing zero bits to a byte boundary) and computes the JEDEC checksum:
// the sum, modulo 2^16, of each packed byte with its bits reversed.
func packFuses(bits string) ([]byte, uint16) {
	n := len(bits)
	nbytes := (n + 7) / 8
	out := make([]byte, nbytes)
	for i, ch := range bits {
		if ch == '1' {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	var sum uint16
	for _, b := range out {
		sum += uint16(reverseByte(b))
	}
	return out, sum
}
