// Package spiflash implements the common JEDEC SPI-NOR command set shared
// by every transport that can reach a flash's SPI pins: EPCQ's dedicated
// MPSSE-SPI link (pkg/flash/epcq) and a JTAG-tunneled SPI-over-bridge link
// for parts with no separate SPI header. Grounded on epcq.cpp, the one
// concrete SPI-NOR implementation present in the retrieved source; spiFlash.hpp
// names the same method set (write_enable, sector_erase, erase_and_prog,
// read_status_reg) without a surviving .cpp, confirming this is the shared
// shape rather than an EPCQ-only one.
package spiflash

import (
	"fmt"
	"time"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// JEDEC SPI-NOR opcodes, epcq.cpp's #define block.
const (
	cmdReadStatus    = 0x05
	cmdReadBytes     = 0x03
	cmdReadDevID     = 0x9F
	cmdReadSiliconID = 0xAB
	cmdFastRead      = 0x0B
	cmdWriteEnable   = 0x06
	cmdWriteDisable  = 0x04
	cmdWriteStatus   = 0x01
	cmdPageProgram   = 0x02
	cmdBulkErase     = 0xC7
	cmdSectorErase   = 0xD8
	cmdSubsectorErase = 0x20

	statusWEL = 1 << 1
	statusWIP = 1 << 0
)

// SectorSize and PageSize match the Micron/Numonyx EPCQ parts epcq.cpp
// targets; callers programming a different NOR part override via
// NewProgrammerWithGeometry.
const (
	SectorSize = 65536
	PageSize   = 256
)

// Transport asserts CS, clocks out tx, then clocks in and returns rxLen
// further bytes before deasserting CS — the same two-phase shape as
// EPCQ::ft2232_spi_wr_then_rd. EPCQ drives this over a dedicated MPSSE-SPI
// link; a JTAG-bridged part drives it by tunneling each byte through a USER
// IR shift register instead. Either way the command semantics above are
// identical.
type Transport interface {
	WriteRead(tx []byte, rxLen int) ([]byte, error)
}

// Programmer drives the shared erase/program/verify sequence. reverseBits
// matches EPCQ::convertLSB: some bridges need each byte's bit order flipped
// before it reaches the flash's serial shift register.
type Programmer struct {
	t           Transport
	reverseBits bool
	sectorSize  int
	pageSize    int
}

func NewProgrammer(t Transport, reverseBits bool) *Programmer {
	return NewProgrammerWithGeometry(t, reverseBits, SectorSize, PageSize)
}

func NewProgrammerWithGeometry(t Transport, reverseBits bool, sectorSize, pageSize int) *Programmer {
	return &Programmer{t: t, reverseBits: reverseBits, sectorSize: sectorSize, pageSize: pageSize}
}

func convertLSB(b byte) byte {
	var res byte
	for i := 0; i < 8; i++ {
		res = (res << 1) | ((b >> uint(i)) & 1)
	}
	return res
}

func (p *Programmer) maybeReverse(data []byte) []byte {
	if !p.reverseBits {
		return data
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = convertLSB(b)
	}
	return out
}

// ReadID reads the JEDEC device-ID and silicon-ID registers, packed as
// (deviceID<<8)|siliconID, mirroring EPCQ::detect.
func (p *Programmer) ReadID() (uint32, error) {
	dev, err := p.t.WriteRead([]byte{cmdReadDevID, 0, 0}, 1)
	if err != nil {
		return 0, err
	}
	sil, err := p.t.WriteRead([]byte{cmdReadSiliconID, 0, 0, 0}, 1)
	if err != nil {
		return 0, err
	}
	return (uint32(dev[0]) << 8) | uint32(sil[0]), nil
}

func (p *Programmer) readStatus() (byte, error) {
	rx, err := p.t.WriteRead([]byte{cmdReadStatus}, 1)
	if err != nil {
		return 0, err
	}
	return rx[0], nil
}

// waitWEL polls the status register until the write-enable-latch bit sets,
// mirroring EPCQ::wait_wel.
func (p *Programmer) waitWEL(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		s, err := p.readStatus()
		if err != nil {
			return err
		}
		if s&statusWEL != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("spiflash: WEL poll timed out: %w", errs.ErrFlashTimeout)
		}
	}
}

// waitWIP polls the status register until write-in-progress clears,
// mirroring EPCQ::wait_wip.
func (p *Programmer) waitWIP(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		s, err := p.readStatus()
		if err != nil {
			return err
		}
		if s&statusWIP == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("spiflash: WIP poll timed out: %w", errs.ErrFlashTimeout)
		}
	}
}

func (p *Programmer) writeEnable() error {
	if _, err := p.t.WriteRead([]byte{cmdWriteEnable}, 0); err != nil {
		return err
	}
	return p.waitWEL(2 * time.Second)
}

// eraseSectors erases nbSectors sectors starting at startSector. epcq.cpp's
// erase_sector loop runs "nb_sectors >= 0", erasing one sector past the end
// of every request; this is the off-by-one fix (a strict "<" count).
func (p *Programmer) eraseSectors(startSector, nbSectors int) error {
	base := uint32(startSector) * uint32(p.sectorSize)
	for i := 0; i < nbSectors; i++ {
		if err := p.writeEnable(); err != nil {
			return err
		}
		cmd := []byte{cmdSectorErase, byte(base >> 16), byte(base >> 8), byte(base)}
		if _, err := p.t.WriteRead(cmd, 0); err != nil {
			return fmt.Errorf("spiflash: erase sector at %#x: %w", base, errs.ErrFlashEraseFailed)
		}
		if err := p.waitWIP(10 * time.Second); err != nil {
			return err
		}
		base += uint32(p.sectorSize)
	}
	return nil
}

// programPage writes up to one page (PageSize bytes, never crossing a page
// boundary) starting at addr.
func (p *Programmer) programPage(addr uint32, data []byte) error {
	if err := p.writeEnable(); err != nil {
		return err
	}
	cmd := make([]byte, 4+len(data))
	cmd[0] = cmdPageProgram
	cmd[1] = byte(addr >> 16)
	cmd[2] = byte(addr >> 8)
	cmd[3] = byte(addr)
	copy(cmd[4:], p.maybeReverse(data))
	if _, err := p.t.WriteRead(cmd, 0); err != nil {
		return fmt.Errorf("spiflash: program page at %#x: %w", addr, errs.ErrFlashProgramFailed)
	}
	return p.waitWIP(2 * time.Second)
}

// EraseAndProgram implements device.FlashProgrammer: erase exactly the
// sectors that [offset, offset+len(data)) touches, then program page by page.
// Mirrors EPCQ::program's erase_sector+write_page pairing.
func (p *Programmer) EraseAndProgram(offset uint32, data []byte) error {
	startSector := int(offset) / p.sectorSize
	nbSectors := 0
	if len(data) > 0 {
		endSector := (int(offset) + len(data) - 1) / p.sectorSize
		nbSectors = endSector - startSector + 1
	}
	if err := p.eraseSectors(startSector, nbSectors); err != nil {
		return err
	}
	addr := offset
	for i := 0; i < len(data); {
		end := i + p.pageSize - int(addr)%p.pageSize
		if end > len(data) {
			end = len(data)
		}
		if err := p.programPage(addr, data[i:end]); err != nil {
			return err
		}
		addr += uint32(end - i)
		i = end
	}
	return nil
}

// Dump reads length bytes starting at addr into a heap-allocated buffer.
// epcq.cpp's dumpflash declares "unsigned char big_buf[realByteToRead]" as a
// variable-length array sized by a runtime value (a stack-overflow risk for
// any sizable flash); this allocates on the heap instead.
func (p *Programmer) Dump(addr uint32, length int) ([]byte, error) {
	cmd := []byte{cmdFastRead, byte(addr >> 16), byte(addr >> 8), byte(addr), 0}
	rx, err := p.t.WriteRead(cmd, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, rx)
	return p.maybeReverse(out), nil
}
