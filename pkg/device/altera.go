package device

import (
	"fmt"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream"
	"github.com/openjtagtools/fpgaflash/pkg/device/idtable"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
	"github.com/openjtagtools/fpgaflash/pkg/jtagengine"
	"github.com/openjtagtools/fpgaflash/pkg/svf"
	"github.com/openjtagtools/fpgaflash/pkg/tap"
)

const (
	alteraIRIDCode  = 0x06
	alteraIRLen     = 10
	alteraIRPulseNC = 0x01 // PULSE_NCONFIG, shifted as the low bit of the IR
)

// Altera drives Cyclone/MAX10-family parts entirely through SVF playback:
// an .svf artifact is the bitstream itself (MEM mode); any other artifact
// is flashed indirectly to an EPCQ device after first loading a bridge
// SVF that exposes the flash over JTAG (SPI mode), mirroring
// Altera::program in altera.cpp.
type Altera struct {
	eng    *jtagengine.Engine
	desc   idtable.Descriptor
	art    *bitstream.Artifact
	svfSrc []byte // raw .svf text for MEM mode, or the SPI-mode bridge SVF
	mode   Mode
	flash  FlashProgrammer
	player *svf.Player
}

// NewAltera constructs a driver. svfSrc is the .svf to play: the
// bitstream itself in MEM mode, or the flash-bridge SVF in SPI mode.
func NewAltera(eng *jtagengine.Engine, desc idtable.Descriptor, art *bitstream.Artifact, svfSrc []byte, flash FlashProgrammer) *Altera {
	eng.SetIRLength(desc.IRLen)
	mode := ModeNone
	if art != nil {
		if art.Format == bitstream.FormatRaw {
			mode = ModeMem // a .svf artifact arrives via raw passthrough
		} else {
			mode = ModeSPI
		}
	}
	return &Altera{eng: eng, desc: desc, art: art, svfSrc: svfSrc, mode: mode, flash: flash, player: svf.NewPlayer(eng)}
}

// IDCode reads back the 32-bit IDCODE register through the 10-bit IR.
func (a *Altera) IDCode() (uint32, error) {
	if err := a.eng.GoTestLogicReset(); err != nil {
		return 0, err
	}
	if _, err := a.eng.ShiftIR(bitsFromUint(alteraIRIDCode, alteraIRLen), false); err != nil {
		return 0, err
	}
	bits, err := a.eng.ShiftDR(make([]bool, 32), true)
	if err != nil {
		return 0, err
	}
	return uint32FromBits(bits), nil
}

// Reset issues PULSE_NCONFIG and settles in Test-Logic-Reset.
func (a *Altera) Reset() error {
	if err := a.eng.SetState(tap.StateTestLogicReset); err != nil {
		return err
	}
	if _, err := a.eng.ShiftIR(bitsFromUint(alteraIRPulseNC, alteraIRLen), false); err != nil {
		return err
	}
	if err := a.eng.ToggleClock(false, false, 1); err != nil {
		return err
	}
	return a.eng.SetState(tap.StateTestLogicReset)
}

// Flash exposes the flash programmer wired in at construction, nil in MEM
// mode; used by the dump subcommand to read back flash contents.
func (a *Altera) Flash() FlashProgrammer { return a.flash }

// Program plays the SVF bitstream directly (MEM mode) or plays a bridge
// SVF then programs the attached EPCQ device (SPI mode).
func (a *Altera) Program(offset uint32) error {
	switch a.mode {
	case ModeNone:
		return nil
	case ModeMem:
		return a.player.PlayBytes(a.svfSrc)
	case ModeSPI:
		if a.flash == nil {
			return fmt.Errorf("device: altera SPI-mode programming requires a flash programmer: %w", errs.ErrConfiguration)
		}
		if err := a.player.PlayBytes(a.svfSrc); err != nil {
			return err
		}
		if err := a.flash.EraseAndProgram(offset, a.art.Bits); err != nil {
			return err
		}
		return a.Reset()
	}
	return nil
}
