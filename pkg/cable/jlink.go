package cable

import (
	"fmt"

	"github.com/google/gousb"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// J-Link binary command set (§6).
const (
	jlinkCmdVersion   = 0x01
	jlinkCmdSetSpeed  = 0x05
	jlinkCmdSetKSPower = 0x08
	jlinkCmdGetSpeeds = 0xc0
	jlinkCmdSelectIF  = 0xc7
	jlinkCmdHWJtag3   = 0xcf
	jlinkCmdGetCaps   = 0xe8
	jlinkCmdGetHWVer  = 0xf0

	jlinkIfJTAG = 0
)

type jlinkCable struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	lastTDI bool
	baseHz  int
}

func newJLinkCable(d Descriptor) (Cable, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(d.VID), gousb.ID(d.PID))
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("jlink: open: %w", errs.ErrTransport)
	}
	_ = dev.SetAutoDetach(true)
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("jlink: config: %w: %v", errs.ErrTransport, err)
	}
	intf, err := cfg.Interface(d.Interface, 0)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("jlink: interface: %w: %v", errs.ErrTransport, err)
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
		return nil, fmt.Errorf("jlink: endpoints not found: %w", errs.ErrTransport)
	}
	c := &jlinkCable{ctx: ctx, dev: dev, intf: intf, out: outEP, in: inEP, baseHz: 12_000_000}

	if err := c.send([]byte{jlinkCmdSetKSPower, 1}); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.send([]byte{jlinkCmdSelectIF, jlinkIfJTAG}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *jlinkCable) send(p []byte) error {
	if _, err := c.out.Write(p); err != nil {
		return fmt.Errorf("jlink: write: %w: %v", errs.ErrTransport, err)
	}
	return nil
}

func (c *jlinkCable) recv(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		k, err := c.in.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("jlink: read: %w: %v", errs.ErrTransport, err)
		}
		total += k
	}
	return buf, nil
}

func (c *jlinkCable) SetClockFrequency(hz int) (int, error) {
	if hz <= 0 || hz > c.baseHz {
		hz = c.baseHz
	}
	khz := hz / 1000
	if khz < 1 {
		khz = 1
	}
	if err := c.send([]byte{jlinkCmdSetSpeed, byte(khz & 0xff), byte((khz >> 8) & 0xff)}); err != nil {
		return 0, err
	}
	return khz * 1000, nil
}

// hwJtag3 performs one HW_JTAG3 transaction: payload is
// [cmd,0,bits_lo,bits_hi,tms_bytes...,tdi_bytes...]; reply is
// tdo_bytes followed by a status byte (0 == OK).
func (c *jlinkCable) hwJtag3(tms, tdi []bool) ([]bool, error) {
	n := len(tdi)
	nbytes := (n + 7) / 8
	tmsPacked := packBitsLSB(tms)
	tdiPacked := packBitsLSB(tdi)

	payload := make([]byte, 0, 4+2*nbytes)
	payload = append(payload, jlinkCmdHWJtag3, 0, byte(n&0xff), byte((n>>8)&0xff))
	payload = append(payload, tmsPacked...)
	payload = append(payload, tdiPacked...)
	if err := c.send(payload); err != nil {
		return nil, err
	}
	rx, err := c.recv(nbytes + 1)
	if err != nil {
		return nil, err
	}
	status := rx[nbytes]
	if status != 0 {
		return nil, fmt.Errorf("jlink: HW_JTAG3 status 0x%02x: %w", status, errs.ErrProtocol)
	}
	return unpackBitsLSB(rx[:nbytes], n), nil
}

func (c *jlinkCable) WriteTMS(tmsBits []bool, flush bool) error {
	if len(tmsBits) == 0 {
		return nil
	}
	tdi := make([]bool, len(tmsBits))
	for i := range tdi {
		tdi[i] = c.lastTDI
	}
	if _, err := c.hwJtag3(tmsBits, tdi); err != nil {
		return err
	}
	return nil
}

func (c *jlinkCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	if len(tdiBits) == 0 {
		return nil, nil
	}
	tms := make([]bool, len(tdiBits))
	if raiseTMSOnLast {
		tms[len(tms)-1] = true
	}
	c.lastTDI = tdiBits[len(tdiBits)-1]
	tdo, err := c.hwJtag3(tms, tdiBits)
	if err != nil {
		return nil, err
	}
	if !captureTDO {
		return nil, nil
	}
	return tdo, nil
}

func (c *jlinkCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	if n <= 0 {
		return nil
	}
	tms := make([]bool, n)
	tdi := make([]bool, n)
	for i := 0; i < n; i++ {
		tms[i] = tmsLevel
		tdi[i] = tdiLevel
	}
	_, err := c.hwJtag3(tms, tdi)
	return err
}

func (c *jlinkCable) Flush() error { return nil } // J-Link transactions are synchronous per HW_JTAG3 call

func (c *jlinkCable) BufferCapacityBits() int { return 16 * 1024 * 8 }

func (c *jlinkCable) Close() error {
	// Restore target power to its idle (off) state on shutdown, per §5.
	_ = c.send([]byte{jlinkCmdSetKSPower, 0})
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
