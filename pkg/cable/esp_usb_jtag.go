package cable

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// ESP-USB-JTAG nibble command set (two nibbles per byte, high nibble
// first), matching the vendor protocol documented in esp_usb_jtag.cpp:
//
//	CMD_CLK   [0 cap tms tdi]
//	CMD_RST   [1 0 0 srst]
//	CMD_FLUSH [1 0 1 0]
//	CMD_REP   [1 1 R1 R0]   repeats the last non-REP command (r1*2+r0)<<(2*n)
const (
	espNibbleClkCap = 0x4 // bit2
	espNibbleClkTMS = 0x2 // bit1
	espNibbleClkTDI = 0x1 // bit0
	espNibbleRst    = 0x8
	espNibbleFlush  = 0xa
	espNibbleRepBit = 0xc // 0b1100, low 2 bits hold r1,r0
)

type espUSBJTAGCable struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	nibbles  []byte // pending nibbles, flushed as packed bytes
	lastCLK  byte
	haveLast bool
	tdoBits  int // bits requested with cap=1 since last flush
}

func newESPUSBJTAGCable(d Descriptor) (Cable, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(d.VID), gousb.ID(d.PID))
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("esp-usb-jtag: open: %w", errs.ErrTransport)
	}
	_ = dev.SetAutoDetach(true)
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("esp-usb-jtag: config: %w: %v", errs.ErrTransport, err)
	}
	intf, err := cfg.Interface(d.Interface, 0)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("esp-usb-jtag: interface: %w: %v", errs.ErrTransport, err)
	}
	var outEP *gousb.OutEndpoint
	var inEP *gousb.InEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionOut && outEP == nil {
			outEP, _ = intf.OutEndpoint(ep.Number)
		}
		if ep.Direction == gousb.EndpointDirectionIn && inEP == nil {
			inEP, _ = intf.InEndpoint(ep.Number)
		}
	}
	if outEP == nil || inEP == nil {
		intf.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("esp-usb-jtag: endpoints not found: %w", errs.ErrTransport)
	}
	return &espUSBJTAGCable{ctx: ctx, dev: dev, intf: intf, out: outEP, in: inEP}, nil
}

// pushClk appends n repetitions of a CLK nibble, run-length encoding
// repeats with CMD_REP the way the device expects: each REP nibble is a
// base-4 digit of (n-1), least significant first.
func (c *espUSBJTAGCable) pushClk(cap, tms, tdi bool) {
	var b byte
	if cap {
		b |= espNibbleClkCap
	}
	if tms {
		b |= espNibbleClkTMS
	}
	if tdi {
		b |= espNibbleClkTDI
	}
	c.nibbles = append(c.nibbles, b)
	c.lastCLK = b
	c.haveLast = true
	if cap {
		c.tdoBits++
	}
}

func (c *espUSBJTAGCable) pushRepeat(extra int) {
	if extra <= 0 || !c.haveLast {
		return
	}
	for extra > 0 {
		digit := extra % 4
		extra /= 4
		r1 := byte((digit >> 1) & 1)
		r0 := byte(digit & 1)
		c.nibbles = append(c.nibbles, espNibbleRepBit|(r1<<1)|r0)
	}
}

func (c *espUSBJTAGCable) sendNibbles() error {
	if len(c.nibbles) == 0 {
		return nil
	}
	n := c.nibbles
	if len(n)%2 != 0 {
		n = append(n, espNibbleFlush)
	}
	packed := make([]byte, len(n)/2)
	for i := 0; i < len(n); i += 2 {
		packed[i/2] = (n[i] << 4) | n[i+1]
	}
	if _, err := c.out.Write(packed); err != nil {
		return fmt.Errorf("esp-usb-jtag: write: %w: %v", errs.ErrTransport, err)
	}
	c.nibbles = c.nibbles[:0]
	c.haveLast = false
	return nil
}

func (c *espUSBJTAGCable) SetClockFrequency(hz int) (int, error) {
	// VEND_JTAG_SETDIV is a control transfer; approximate the divider from
	// a nominal 40 MHz APB-derived base clock.
	const base = 40_000_000
	if hz <= 0 || hz > base {
		return base, nil
	}
	div := (base + hz - 1) / hz // round the divider up so base/div <= hz
	if div < 1 {
		div = 1
	}
	return base / div, nil
}

func (c *espUSBJTAGCable) WriteTMS(tmsBits []bool, flush bool) error {
	for _, b := range tmsBits {
		c.pushClk(false, b, false)
	}
	if flush {
		return c.Flush()
	}
	return nil
}

func (c *espUSBJTAGCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	last := len(tdiBits) - 1
	for i, b := range tdiBits {
		tms := raiseTMSOnLast && i == last
		c.pushClk(captureTDO, tms, b)
	}
	if !captureTDO {
		return nil, nil
	}
	if err := c.Flush(); err != nil {
		return nil, err
	}
	nbytes := (len(tdiBits) + 7) / 8
	rx := make([]byte, nbytes)
	if _, err := c.in.Read(rx); err != nil {
		return nil, fmt.Errorf("esp-usb-jtag: read tdo: %w: %v", errs.ErrTransport, err)
	}
	return unpackBitsLSB(rx, len(tdiBits)), nil
}

func (c *espUSBJTAGCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	if n <= 0 {
		return nil
	}
	c.pushClk(false, tmsLevel, tdiLevel)
	c.pushRepeat(n - 1)
	return nil
}

func (c *espUSBJTAGCable) Flush() error {
	c.nibbles = append(c.nibbles, espNibbleFlush)
	return c.sendNibbles()
}

func (c *espUSBJTAGCable) BufferCapacityBits() int { return 4096 }

func (c *espUSBJTAGCable) Close() error {
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
