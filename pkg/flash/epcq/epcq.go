// Package epcq drives an Altera EPCQ/EPCS serial configuration device over
// its own dedicated MPSSE-SPI link (distinct from the JTAG link used to
// program the FPGA fabric itself), grounded on epcq.cpp. The NOR command
// sequencing (erase/program/verify) lives in pkg/flash/spiflash; this
// package only supplies the MPSSE byte-transport epcq.cpp calls
// ft2232_spi_wr_and_rd/ft2232_spi_wr_then_rd.
package epcq

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/openjtagtools/fpgaflash/pkg/flash/spiflash"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// MPSSE opcodes used in SPI (not JTAG) mode. Same instruction set as
// pkg/cable's MPSSE driver (AN_108/AN_135); kept as a private copy here
// since the two packages drive physically distinct links and have no
// reason to share a Cable-shaped interface.
const (
	mpsseClockBytesOutNeg   = 0x11 // MSB first, write-only, out on -ve edge
	mpsseClockBytesInPos    = 0x20 // MSB first, read-only, in on +ve edge
	mpsseSetLowByte         = 0x80
	mpsseSendImmediate      = 0x87
	mpsseDisableAdaptive    = 0x97
	mpsseDisableTriPhase    = 0x8d
	mpsseSetDivisor         = 0x86
	mpsseClockDivide5Off    = 0x8a
	mpsseBaseClockHz        = 60_000_000
)

// csBit is the GPIOL0 pin epcq.cpp's SPI_CS_MANUAL/SPI_CS_AUTO toggle.
const csBit = 0x01

// Transport drives an FTDI MPSSE adapter's ADBUS pins as a raw SPI master:
// CS asserted for the duration of one WriteRead, MOSI/MISO clocked MSB
// first at SPI mode 0 (CPOL=0, CPHA=0), matching EPCQ's FT2232SPI backend.
type Transport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	idleDir byte // GPIOL direction byte, CS held as an output
}

// Open claims the given USB device/interface and configures it for SPI
// mode 0 at clkHZ.
func Open(vid, pid gousb.ID, iface int, clkHZ int) (*Transport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("epcq: open %v:%v: %w", vid, pid, errs.ErrTransport)
	}
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("epcq: config: %w: %v", errs.ErrTransport, err)
	}
	intf, err := cfg.Interface(iface, 0)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("epcq: claim interface %d: %w: %v", iface, errs.ErrTransport, err)
	}

	var outEP *gousb.OutEndpoint
	var inEP *gousb.InEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut && outEP == nil {
			if e, err := intf.OutEndpoint(ep.Number); err == nil {
				outEP = e
			}
		}
		if ep.Direction == gousb.EndpointDirectionIn && inEP == nil {
			if e, err := intf.InEndpoint(ep.Number); err == nil {
				inEP = e
			}
		}
	}
	if outEP == nil || inEP == nil {
		intf.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("epcq: bulk endpoints not found: %w", errs.ErrTransport)
	}

	t := &Transport{ctx: ctx, dev: dev, intf: intf, out: outEP, in: inEP, idleDir: 0x0b}
	if err := t.send([]byte{mpsseDisableAdaptive, mpsseDisableTriPhase}); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.setDivisor(clkHZ); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.deselect(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transport) send(cmd []byte) error {
	if _, err := t.out.Write(cmd); err != nil {
		return fmt.Errorf("epcq: write: %w: %v", errs.ErrTransport, err)
	}
	return nil
}

func (t *Transport) recv(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := t.in.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("epcq: read: %w: %v", errs.ErrTransport, err)
		}
		total += k
	}
	return buf, nil
}

// divisorFor computes the AN_135 prescaler value (real = base/((1+presc)*2))
// for a requested SPI clock, clamped to the 16-bit divisor register.
func divisorFor(hz int) int {
	presc := 0
	if hz > 0 {
		presc = mpsseBaseClockHz/(2*hz) - 1
		if presc < 0 {
			presc = 0
		}
	}
	if presc > 0xFFFF {
		presc = 0xFFFF
	}
	return presc
}

func (t *Transport) setDivisor(hz int) error {
	presc := divisorFor(hz)
	return t.send([]byte{mpsseClockDivide5Off, mpsseSetDivisor, byte(presc & 0xff), byte((presc >> 8) & 0xff)})
}

// select/deselect correspond to EPCQ's setCSmode(SPI_CS_MANUAL)+clearCs()
// and setCs()+setCSmode(SPI_CS_AUTO) bracketing each transaction.
func (t *Transport) selectChip() error {
	return t.send([]byte{mpsseSetLowByte, 0x00, t.idleDir})
}

func (t *Transport) deselect() error {
	return t.send([]byte{mpsseSetLowByte, csBit, t.idleDir})
}

// WriteRead asserts CS, clocks tx out (discarding the simultaneous input,
// which is undefined while the flash is still parsing the command), then
// clocks rxLen further bytes in before deasserting CS. Mirrors
// EPCQ::ft2232_spi_wr_then_rd's two-phase shape.
func (t *Transport) WriteRead(tx []byte, rxLen int) ([]byte, error) {
	if err := t.selectChip(); err != nil {
		return nil, err
	}
	defer t.deselect()

	if len(tx) > 0 {
		n := len(tx)
		cmd := append([]byte{mpsseClockBytesOutNeg, byte((n - 1) & 0xff), byte(((n - 1) >> 8) & 0xff)}, tx...)
		if err := t.send(cmd); err != nil {
			return nil, err
		}
	}
	if rxLen == 0 {
		return nil, nil
	}
	cmd := []byte{mpsseClockBytesInPos, byte((rxLen - 1) & 0xff), byte(((rxLen - 1) >> 8) & 0xff), mpsseSendImmediate}
	if err := t.send(cmd); err != nil {
		return nil, err
	}
	return t.recv(rxLen)
}

func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}

// New builds a spiflash.Programmer over an EPCQ link opened on vid/pid,
// with convertLSB-style bit reversal enabled as epcq.cpp's program()
// defaults it for the bridges it supports.
func New(vid, pid gousb.ID, iface int, clkHZ int, reverseBits bool) (*spiflash.Programmer, *Transport, error) {
	t, err := Open(vid, pid, iface, clkHZ)
	if err != nil {
		return nil, nil, err
	}
	return spiflash.NewProgrammer(t, reverseBits), t, nil
}
