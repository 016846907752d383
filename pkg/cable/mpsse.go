package cable

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// MPSSE command opcodes, AN_108/AN_135 (FTDI FT2232/FT4232 family). Mirrors
// the opcode table in periph.io/x/host/v3/ftdi's mpsse.go, specialized here
// to the JTAG bit/byte clocking subset the engine actually drives.
const (
	mpsseByteOutFallNoRead = 0x19 // clock bytes out, TDI changes on falling edge, no TDO capture
	mpsseByteOutFallRead   = 0x39 // same, with TDO captured on the rising edge
	mpsseBitOutFallNoRead  = 0x1b
	mpsseBitOutFallRead    = 0x3b
	mpsseTMSOutFall        = 0x4b // TMS shift, TDI held at bit 7, out on falling edge
	mpsseTMSOutFallRead    = 0x6b // same, with TDO captured

	mpsseSetLowByte  = 0x80
	mpsseSetHighByte = 0x82
	mpsseClockDivide5Off = 0x8a
	mpsseClockDivide5On  = 0x8b
	mpsseSetDivisor      = 0x86
	mpsseSendImmediate   = 0x87
	mpsseDisableAdaptive = 0x97
	mpsseDisableTriPhase = 0x8d
)

const (
	mpsseBaseClockHz       = 60_000_000 // FT2232H/FT4232H
	mpsseBaseClockHzFT2232C = 12_000_000
)

// mpsseCable drives an FT2232/FT4232-family adapter in MPSSE mode, plus the
// FTDI JTAG-SPI variants that share the same opcode set.
type mpsseCable struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	lastTDI bool // value held on TDI between WriteTMS calls
	baseHz  int
}

func newMPSSECable(d Descriptor) (Cable, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(d.VID), gousb.ID(d.PID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("mpsse: open %04x:%04x: %w: %v", d.VID, d.PID, errs.ErrTransport, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("mpsse: device %04x:%04x not found: %w", d.VID, d.PID, errs.ErrTransport)
	}
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("mpsse: config: %w: %v", errs.ErrTransport, err)
	}
	intf, err := cfg.Interface(d.Interface, 0)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("mpsse: claim interface %d: %w: %v", d.Interface, errs.ErrTransport, err)
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
		return nil, fmt.Errorf("mpsse: bulk endpoints not found: %w", errs.ErrTransport)
	}

	c := &mpsseCable{ctx: ctx, dev: dev, intf: intf, out: outEP, in: inEP, baseHz: mpsseBaseClockHz}
	if err := c.send([]byte{mpsseDisableAdaptive, mpsseDisableTriPhase}); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.setIdlePins(d); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *mpsseCable) setIdlePins(d Descriptor) error {
	return c.send([]byte{
		mpsseSetLowByte, d.LowByteIdleValue, d.LowByteIdleDir,
		mpsseSetHighByte, d.HighByteIdleValue, d.HighByteIdleDir,
	})
}

func (c *mpsseCable) send(cmd []byte) error {
	_, err := c.out.Write(cmd)
	if err != nil {
		return fmt.Errorf("mpsse: write: %w: %v", errs.ErrTransport, err)
	}
	return nil
}

func (c *mpsseCable) recv(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := c.in.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("mpsse: read: %w: %v", errs.ErrTransport, err)
		}
		total += k
	}
	return buf, nil
}

// SetClockFrequency applies real = base / ((1+presc)*2), rounding the
// divisor up (frequency down) to the nearest supported value, enabling the
// /5 predivider below 6 MHz as required by AN_135.
func (c *mpsseCable) SetClockFrequency(hz int) (int, error) {
	base := c.baseHz
	div5 := []byte{mpsseClockDivide5On}
	if hz >= 6_000_000 {
		base = mpsseBaseClockHz
		div5 = []byte{mpsseClockDivide5Off}
	} else {
		base = mpsseBaseClockHzFT2232C // 60 MHz / 5 = 12 MHz once div5 is enabled in real silicon; see AN_135
	}

	presc, actual := mpsseComputeDivisor(base, hz)

	cmd := append(div5, mpsseSetDivisor, byte(presc&0xff), byte((presc>>8)&0xff))
	if err := c.send(cmd); err != nil {
		return 0, err
	}
	return actual, nil
}

// mpsseComputeDivisor rounds base/(2*hz) up to the nearest integer
// prescaler, so the resulting actual clock is always <= hz (spec.md §4.1,
// §8 invariant 8), then clamps the 16-bit prescaler register range.
func mpsseComputeDivisor(base, hz int) (presc, actual int) {
	if hz > 0 {
		presc = (base+2*hz-1)/(2*hz) - 1
		if presc < 0 {
			presc = 0
		}
	}
	if presc > 0xFFFF {
		presc = 0xFFFF
	}
	actual = base / (2 * (presc + 1))
	return presc, actual
}

func (c *mpsseCable) WriteTMS(tmsBits []bool, flush bool) error {
	if len(tmsBits) == 0 {
		if flush {
			return c.Flush()
		}
		return nil
	}
	// MPSSE TMS shifts move at most 7 bits per command (bit 7 holds TDI).
	for len(tmsBits) > 0 {
		n := len(tmsBits)
		if n > 7 {
			n = 7
		}
		chunk := tmsBits[:n]
		tmsBits = tmsBits[n:]
		var b byte
		for i, bit := range chunk {
			if bit {
				b |= 1 << uint(i)
			}
		}
		if c.lastTDI {
			b |= 0x80
		}
		if err := c.send([]byte{mpsseTMSOutFall, byte(n - 1), b}); err != nil {
			return err
		}
	}
	if flush {
		return c.Flush()
	}
	return nil
}

func (c *mpsseCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	if len(tdiBits) == 0 {
		return nil, nil
	}
	if len(tdiBits) > 0 {
		c.lastTDI = tdiBits[len(tdiBits)-1]
	}

	body := tdiBits
	last := false
	if raiseTMSOnLast {
		body = tdiBits[:len(tdiBits)-1]
		last = tdiBits[len(tdiBits)-1]
	}

	var tdo []bool
	if len(body) > 0 {
		wholeBytes := len(body) / 8
		if wholeBytes > 0 {
			bits := body[:wholeBytes*8]
			packed := packBitsLSB(bits)
			op := mpsseByteOutFallNoRead
			if captureTDO {
				op = mpsseByteOutFallRead
			}
			n := len(packed)
			cmd := append([]byte{byte(op), byte((n - 1) & 0xff), byte(((n - 1) >> 8) & 0xff)}, packed...)
			if err := c.send(cmd); err != nil {
				return nil, err
			}
			if captureTDO {
				if err := c.send([]byte{mpsseSendImmediate}); err != nil {
					return nil, err
				}
				rx, err := c.recv(n)
				if err != nil {
					return nil, err
				}
				tdo = append(tdo, unpackBitsLSB(rx, len(bits))...)
			}
			body = body[wholeBytes*8:]
		}
		if len(body) > 0 {
			var b byte
			for i, bit := range body {
				if bit {
					b |= 1 << uint(i)
				}
			}
			op := mpsseBitOutFallNoRead
			if captureTDO {
				op = mpsseBitOutFallRead
			}
			if err := c.send([]byte{byte(op), byte(len(body) - 1), b}); err != nil {
				return nil, err
			}
			if captureTDO {
				if err := c.send([]byte{mpsseSendImmediate}); err != nil {
					return nil, err
				}
				rx, err := c.recv(1)
				if err != nil {
					return nil, err
				}
				tdo = append(tdo, unpackBitsLSB(rx, len(body))...)
			}
		}
	}

	if raiseTMSOnLast {
		var tdiBit byte
		if last {
			tdiBit = 0x80
		}
		op := mpsseTMSOutFall
		if captureTDO {
			op = mpsseTMSOutFallRead
		}
		// Final bit rides on TDI through the TMS op's bit-7 slot; TMS itself
		// rises (bit pattern 0x01) to realize the Shift->Exit1 transition.
		if err := c.send([]byte{byte(op), 0x00, 0x01 | tdiBit}); err != nil {
			return nil, err
		}
		if captureTDO {
			if err := c.send([]byte{mpsseSendImmediate}); err != nil {
				return nil, err
			}
			rx, err := c.recv(1)
			if err != nil {
				return nil, err
			}
			tdo = append(tdo, rx[0]&0x80 != 0)
		}
		c.lastTDI = last
	}

	return tdo, nil
}

func (c *mpsseCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	if n <= 0 {
		return nil
	}
	var b byte
	if tmsLevel {
		b |= 0x01
	}
	if tdiLevel {
		b |= 0x80
	}
	for n > 0 {
		chunk := n
		if chunk > 7 {
			chunk = 7
		}
		if err := c.send([]byte{mpsseTMSOutFall, byte(chunk - 1), b}); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (c *mpsseCable) Flush() error {
	return c.send([]byte{mpsseSendImmediate})
}

func (c *mpsseCable) BufferCapacityBits() int {
	return 64 * 1024 * 8 // FT2232H has a 64 KiB TX FIFO
}

func (c *mpsseCable) Close() error {
	if c.intf != nil {
		c.intf.Close()
	}
	if c.dev != nil {
		c.dev.Close()
	}
	if c.ctx != nil {
		c.ctx.Close()
	}
	return nil
}
