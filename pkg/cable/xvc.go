package cable

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Xilinx Virtual Cable is a plain TCP text/binary protocol (§6):
//
//	getinfo:                                  -> "xvcServer_v1.0:<max_bytes>\n"
//	settck:<u32 ns little-endian>              -> echoes the accepted period
//	shift:<u32 bits LE><tms_bytes><tdi_bytes>  -> <tdo_bytes>
type xvcCable struct {
	conn    net.Conn
	maxBits int
}

func newXVCCable(d Descriptor) (Cable, error) {
	conn, err := net.Dial("tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("xvc: dial %s: %w: %v", d.Address, errs.ErrTransport, err)
	}
	c := &xvcCable{conn: conn, maxBits: 4096}
	if _, err := conn.Write([]byte("getinfo:")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("xvc: getinfo: %w: %v", errs.ErrTransport, err)
	}
	reply := make([]byte, 64)
	n, err := conn.Read(reply)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("xvc: getinfo reply: %w: %v", errs.ErrTransport, err)
	}
	var maxBytes int
	fmt.Sscanf(string(reply[:n]), "xvcServer_v1.0:%d", &maxBytes)
	if maxBytes > 0 {
		c.maxBits = maxBytes * 8
	}
	return c, nil
}

func (c *xvcCable) shift(tms, tdi []bool) ([]bool, error) {
	n := len(tdi)
	if n == 0 {
		return nil, nil
	}
	tmsPacked := packBitsLSB(tms)
	tdiPacked := packBitsLSB(tdi)
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, uint32(n))

	req := append([]byte("shift:"), hdr...)
	req = append(req, tmsPacked...)
	req = append(req, tdiPacked...)
	if _, err := c.conn.Write(req); err != nil {
		return nil, fmt.Errorf("xvc: write: %w: %v", errs.ErrTransport, err)
	}
	nbytes := (n + 7) / 8
	rx := make([]byte, nbytes)
	if _, err := io.ReadFull(c.conn, rx); err != nil {
		return nil, fmt.Errorf("xvc: read: %w: %v", errs.ErrTransport, err)
	}
	return unpackBitsLSB(rx, n), nil
}

func (c *xvcCable) SetClockFrequency(hz int) (int, error) {
	if hz <= 0 {
		hz = 1_000_000
	}
	periodNs := uint32(1_000_000_000 / hz)
	req := append([]byte("settck:"), make([]byte, 4)...)
	binary.LittleEndian.PutUint32(req[7:], periodNs)
	if _, err := c.conn.Write(req); err != nil {
		return 0, fmt.Errorf("xvc: settck: %w: %v", errs.ErrTransport, err)
	}
	rx := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, rx); err != nil {
		return 0, fmt.Errorf("xvc: settck reply: %w: %v", errs.ErrTransport, err)
	}
	actualNs := binary.LittleEndian.Uint32(rx)
	if actualNs == 0 {
		return hz, nil
	}
	return int(1_000_000_000 / actualNs), nil
}

func (c *xvcCable) WriteTMS(tmsBits []bool, flush bool) error {
	if len(tmsBits) == 0 {
		return nil
	}
	tdi := make([]bool, len(tmsBits))
	_, err := c.shift(tmsBits, tdi)
	return err
}

func (c *xvcCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	if len(tdiBits) == 0 {
		return nil, nil
	}
	tms := make([]bool, len(tdiBits))
	if raiseTMSOnLast {
		tms[len(tms)-1] = true
	}
	tdo, err := c.shift(tms, tdiBits)
	if err != nil {
		return nil, err
	}
	if !captureTDO {
		return nil, nil
	}
	return tdo, nil
}

func (c *xvcCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	if n <= 0 {
		return nil
	}
	tms := make([]bool, n)
	tdi := make([]bool, n)
	for i := 0; i < n; i++ {
		tms[i] = tmsLevel
		tdi[i] = tdiLevel
	}
	_, err := c.shift(tms, tdi)
	return err
}

func (c *xvcCable) Flush() error { return nil } // XVC has no client-side buffering; every shift is synchronous

func (c *xvcCable) BufferCapacityBits() int { return c.maxBits }

func (c *xvcCable) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
