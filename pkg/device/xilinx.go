package device

import (
	"fmt"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream"
	"github.com/openjtagtools/fpgaflash/pkg/device/idtable"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
	"github.com/openjtagtools/fpgaflash/pkg/jtagengine"
	"github.com/openjtagtools/fpgaflash/pkg/tap"
)

// Xilinx IR opcodes, 6-bit, grounded on xilinx.cpp.
const (
	xilinxIRCfgIn      = 0x05
	xilinxIRUserCode   = 0x08
	xilinxIRIDCode     = 0x09
	xilinxIRISCEnable  = 0x10
	xilinxIRJProgram   = 0x0B
	xilinxIRJStart     = 0x0C
	xilinxIRJShutdown  = 0x0D
	xilinxIRISCDisable = 0x16
	xilinxIRBypass     = 0x3F
)

// FlashProgrammer is the capability SPI-mode drivers call into once their
// bridge bitstream is loaded: erase the target region and program data
// starting at offset. Implemented by pkg/flash/spibridge and
// pkg/flash/epcq; wired in by the orchestrator so this package never
// imports pkg/flash directly.
type FlashProgrammer interface {
	EraseAndProgram(offset uint32, data []byte) error
}

// Xilinx drives 7-series/UltraScale parts: a .bit artifact loads directly
// into SRAM over JTAG (MEM mode); any other extension is an indirect SPI
// flash load through a bridge bitstream (SPI mode), mirroring
// Xilinx::program in xilinx.cpp.
type Xilinx struct {
	eng    *jtagengine.Engine
	desc   idtable.Descriptor
	art    *bitstream.Artifact
	mode   Mode
	bridge *bitstream.Artifact // loaded spiOverJtag_* bridge, MEM-mode artifact
	flash  FlashProgrammer
}

// NewXilinx constructs a driver for one chain-scanned part. bridge and
// flash are only consulted when art's format isn't FormatXilinxBit.
func NewXilinx(eng *jtagengine.Engine, desc idtable.Descriptor, art *bitstream.Artifact, bridge *bitstream.Artifact, flash FlashProgrammer) *Xilinx {
	eng.SetIRLength(desc.IRLen)
	mode := ModeNone
	if art != nil {
		if art.Format == bitstream.FormatXilinxBit {
			mode = ModeMem
		} else {
			mode = ModeSPI
		}
	}
	return &Xilinx{eng: eng, desc: desc, art: art, mode: mode, bridge: bridge, flash: flash}
}

// IDCode reads back the 32-bit IDCODE register.
func (x *Xilinx) IDCode() (uint32, error) {
	if err := x.eng.GoTestLogicReset(); err != nil {
		return 0, err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRIDCode, 6), false); err != nil {
		return 0, err
	}
	bits, err := x.eng.ShiftDR(make([]bool, 32), true)
	if err != nil {
		return 0, err
	}
	return uint32FromBits(bits), nil
}

// Reset pulses JSHUTDOWN/JPROGRAM and settles in BYPASS, matching
// Xilinx::reset.
func (x *Xilinx) Reset() error {
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRJShutdown, 6), false); err != nil {
		return err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRJProgram, 6), false); err != nil {
		return err
	}
	if err := x.eng.SetState(tap.StateRunTestIdle); err != nil {
		return err
	}
	if err := x.eng.ToggleClock(false, false, 10000*12); err != nil {
		return err
	}
	if err := x.eng.SetState(tap.StateRunTestIdle); err != nil {
		return err
	}
	if err := x.eng.ToggleClock(false, false, 2000); err != nil {
		return err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRBypass, 6), false); err != nil {
		return err
	}
	if err := x.eng.SetState(tap.StateRunTestIdle); err != nil {
		return err
	}
	return x.eng.ToggleClock(false, false, 2000)
}

// Program loads the artifact according to the mode picked at construction.
func (x *Xilinx) Program(offset uint32) error {
	switch x.mode {
	case ModeNone:
		return nil
	case ModeMem:
		return x.programMem(x.art)
	case ModeSPI:
		return x.programSPI(offset)
	}
	return nil
}

// LoadBridge shifts the bridge bitstream into SRAM without touching flash,
// bringing up the USER1 SPI/BPI bridge for read-only tooling (the dump
// subcommand) that has no payload to program.
func (x *Xilinx) LoadBridge() error {
	if x.bridge == nil {
		return fmt.Errorf("device: no bridge bitstream configured: %w", errs.ErrConfiguration)
	}
	return x.programMem(x.bridge)
}

// Flash exposes the flash programmer wired in at construction, nil in MEM
// mode; used by the dump subcommand to read back flash contents.
func (x *Xilinx) Flash() FlashProgrammer { return x.flash }

func (x *Xilinx) programSPI(offset uint32) error {
	if x.bridge == nil || x.flash == nil {
		return fmt.Errorf("device: xilinx SPI-mode programming requires a bridge bitstream and flash programmer: %w", errs.ErrConfiguration)
	}
	if err := x.programMem(x.bridge); err != nil {
		return err
	}
	if err := x.flash.EraseAndProgram(offset, x.art.Bits); err != nil {
		return err
	}
	return x.Reset()
}

// programMem shifts a .bit artifact in through the JSHUTDOWN -> JPROGRAM ->
// CFG_IN -> Shift-DR -> JSTART sequence (spec.md §4.4, scenario S1), driven
// through jtagengine instead of ftdijtag directly. The leading JSHUTDOWN is
// not present in xilinx.cpp's own program_mem, which relies on JPROGRAM
// alone to drop the device into configuration mode; it is added here to
// match S1's explicit step list.
func (x *Xilinx) programMem(art *bitstream.Artifact) error {
	if art == nil {
		return nil
	}
	if err := x.eng.GoTestLogicReset(); err != nil {
		return err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRJShutdown, 6), false); err != nil {
		return err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRJProgram, 6), false); err != nil {
		return err
	}
	// poll BYPASS until the device signals it drained JPROGRAM (LSB set)
	for {
		bits, err := x.eng.ShiftIR(bitsFromUint(xilinxIRBypass, 6), true)
		if err != nil {
			return err
		}
		if len(bits) > 0 && bits[0] {
			break
		}
	}
	if err := x.eng.SetState(tap.StateRunTestIdle); err != nil {
		return err
	}
	if err := x.eng.ToggleClock(false, false, 10000*12); err != nil {
		return err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRCfgIn, 6), false); err != nil {
		return err
	}
	bits := make([]bool, len(art.Bits)*8)
	for i, b := range art.Bits {
		for j := 0; j < 8; j++ {
			bits[i*8+j] = b&(1<<uint(j)) != 0
		}
	}
	if _, err := x.eng.ShiftDR(bits, false); err != nil {
		return err
	}
	if _, err := x.eng.ShiftIR(bitsFromUint(xilinxIRJStart, 6), false); err != nil {
		return err
	}
	if err := x.eng.SetState(tap.StateRunTestIdle); err != nil {
		return err
	}
	if err := x.eng.ToggleClock(false, false, 2000); err != nil {
		return err
	}
	return x.eng.GoTestLogicReset()
}
