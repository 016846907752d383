package cable

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// FX2 (Cypress EZ-USB) cables run the NeroJTAG firmware image shipped on
// disk alongside fpgaflash (§6): each JTAG clock is one byte bit-banged
// over the bulk endpoints, bit0=TCK bit1=TMS bit2=TDI, readback bit0=TDO.
const (
	fx2BitTCK = 0x01
	fx2BitTMS = 0x02
	fx2BitTDI = 0x04
	fx2BitTDO = 0x01
)

type fx2Cable struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	lastTDI bool
}

func newFX2Cable(d Descriptor) (Cable, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(d.VID), gousb.ID(d.PID))
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("fx2: open: %w", errs.ErrTransport)
	}
	_ = dev.SetAutoDetach(true)
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("fx2: config: %w: %v", errs.ErrTransport, err)
	}
	intf, err := cfg.Interface(d.Interface, 0)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("fx2: interface: %w: %v", errs.ErrTransport, err)
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
		return nil, fmt.Errorf("fx2: endpoints not found: %w", errs.ErrTransport)
	}
	return &fx2Cable{ctx: ctx, dev: dev, intf: intf, out: outEP, in: inEP}, nil
}

// clockBits bit-bangs one TCK pulse per (tms[i],tdi[i]) pair and optionally
// reads TDO.
func (c *fx2Cable) clockBits(tms, tdi []bool, capture bool) ([]bool, error) {
	n := len(tms)
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	for i := range buf {
		var b byte
		if tms[i] {
			b |= fx2BitTMS
		}
		if tdi[i] {
			b |= fx2BitTDI
		}
		buf[i] = b | fx2BitTCK
	}
	if _, err := c.out.Write(buf); err != nil {
		return nil, fmt.Errorf("fx2: write: %w: %v", errs.ErrTransport, err)
	}
	if !capture {
		return nil, nil
	}
	rx := make([]byte, n)
	total := 0
	for total < n {
		k, err := c.in.Read(rx[total:])
		if err != nil {
			return nil, fmt.Errorf("fx2: read: %w: %v", errs.ErrTransport, err)
		}
		total += k
	}
	tdo := make([]bool, n)
	for i, b := range rx {
		tdo[i] = b&fx2BitTDO != 0
	}
	return tdo, nil
}

func (c *fx2Cable) SetClockFrequency(hz int) (int, error) {
	// The NeroJTAG firmware clocks at a fixed nominal rate; it does not
	// expose a divisor control, so this reports the closest approximation.
	const nominal = 6_000_000
	if hz <= 0 || hz >= nominal {
		return nominal, nil
	}
	return hz, nil
}

func (c *fx2Cable) WriteTMS(tmsBits []bool, flush bool) error {
	if len(tmsBits) == 0 {
		return nil
	}
	tdi := make([]bool, len(tmsBits))
	for i := range tdi {
		tdi[i] = c.lastTDI
	}
	_, err := c.clockBits(tmsBits, tdi, false)
	return err
}

func (c *fx2Cable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	if len(tdiBits) == 0 {
		return nil, nil
	}
	tms := make([]bool, len(tdiBits))
	if raiseTMSOnLast {
		tms[len(tms)-1] = true
	}
	c.lastTDI = tdiBits[len(tdiBits)-1]
	return c.clockBits(tms, tdiBits, captureTDO)
}

func (c *fx2Cable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	if n <= 0 {
		return nil
	}
	tms := make([]bool, n)
	tdi := make([]bool, n)
	for i := 0; i < n; i++ {
		tms[i] = tmsLevel
		tdi[i] = tdiLevel
	}
	_, err := c.clockBits(tms, tdi, false)
	return err
}

func (c *fx2Cable) Flush() error { return nil } // every clockBits call is a synchronous bulk round trip

func (c *fx2Cable) BufferCapacityBits() int { return 512 * 8 } // FX2 bulk packet size

func (c *fx2Cable) Close() error {
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
