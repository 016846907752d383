// Package spibridge drives a SPI-NOR configuration flash that hangs off a
// JTAG-tunneled bit-bang bridge rather than a dedicated MPSSE-SPI link
// (pkg/flash/epcq's case). spiFlash.hpp names the method set this bridges
// (write_enable, sector_erase, erase_and_prog, read_status_reg) but the
// matching spiFlash.cpp never made it into the retrieved source, so the
// wire framing below is not a line-for-line port: it is a plain
// one-JTAG-clock-per-SPI-clock bit-bang DR, the same shape the xc3sprog
// family's BSCAN_SPI bridge bitstreams use, flagged in DESIGN.md as
// ungrounded in the absence of the original.
package spibridge

import (
	"github.com/openjtagtools/fpgaflash/pkg/flash/spiflash"
)

// Engine is the subset of jtagengine.Engine the bridge drives.
type Engine interface {
	ShiftIR(bits []bool, capture bool) ([]bool, error)
	ShiftDR(bits []bool, capture bool) ([]bool, error)
	Flush() error
}

// Bridge DR layout: one bit in, one bit out, per SPI bit clocked. Bit i of
// the DR carries MOSI for SPI bit i; the corresponding captured bit is
// MISO sampled after that same clock. CS is asserted by the IR selection
// itself (entering USER1 grounds the bridge's CS_N) and released when the
// engine returns to Run-Test/Idle at the end of the shift.
type Bridge struct {
	eng   Engine
	irLen int
}

// New constructs a bridge selected by the target's USER1 instruction.
func New(eng Engine, irLen int) *Bridge {
	return &Bridge{eng: eng, irLen: irLen}
}

const user1 = 0x02

func (b *Bridge) selectUser1() error {
	bits := make([]bool, b.irLen)
	for i := 0; i < b.irLen && i < 8; i++ {
		bits[i] = user1&(1<<uint(i)) != 0
	}
	_, err := b.eng.ShiftIR(bits, false)
	return err
}

// WriteRead implements spiflash.Transport: MOSI carries tx MSB-first byte
// by byte, then rxLen further all-zero bytes to let MISO continue driving
// the response; only the trailing rxLen bytes are returned.
func (b *Bridge) WriteRead(tx []byte, rxLen int) ([]byte, error) {
	if err := b.selectUser1(); err != nil {
		return nil, err
	}
	total := (len(tx) + rxLen) * 8
	bits := make([]bool, total)
	pos := 0
	for _, by := range tx {
		for i := 7; i >= 0; i-- {
			bits[pos] = by&(1<<uint(i)) != 0
			pos++
		}
	}
	// remaining bits (the rxLen*8 dummy clock bits) stay false (MOSI low)

	rx, err := b.eng.ShiftDR(bits, rxLen > 0)
	if err != nil {
		return nil, err
	}
	if err := b.eng.Flush(); err != nil {
		return nil, err
	}
	if rxLen == 0 {
		return nil, nil
	}
	out := make([]byte, rxLen)
	base := len(tx) * 8
	for byteIdx := 0; byteIdx < rxLen; byteIdx++ {
		var v byte
		for bit := 0; bit < 8; bit++ {
			idx := base + byteIdx*8 + bit
			if idx < len(rx) && rx[idx] {
				v |= 1 << uint(7-bit)
			}
		}
		out[byteIdx] = v
	}
	return out, nil
}

// NewProgrammer builds a spiflash.Programmer over a JTAG-tunneled bridge.
func NewProgrammer(eng Engine, irLen int) *spiflash.Programmer {
	return spiflash.NewProgrammer(New(eng, irLen), false)
}
