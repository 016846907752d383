package cable

import (
	"bufio"
	"fmt"
	"net"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Remote bitbang is a per-clock ASCII TCP protocol (§6): each single
// character '0'..'7' encodes (TCK,TMS,TDI) as bits 2,1,0; 'r'/'R' request a
// blocking/quiet TDO read answered with '0' or '1'; 'B'/'b' toggle a status
// LED; 'Q' closes the session. There is no framing beyond one byte per
// request, so every clock is a synchronous round trip when TDO is wanted.
type remoteBitbangCable struct {
	conn   net.Conn
	reader *bufio.Reader

	lastTDI bool
}

func newRemoteBitbangCable(d Descriptor) (Cable, error) {
	conn, err := net.Dial("tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("remote-bitbang: dial %s: %w: %v", d.Address, errs.ErrTransport, err)
	}
	return &remoteBitbangCable{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (c *remoteBitbangCable) clockOne(tck, tms, tdi bool) error {
	var v byte
	if tck {
		v |= 0x4
	}
	if tms {
		v |= 0x2
	}
	if tdi {
		v |= 0x1
	}
	_, err := c.conn.Write([]byte{'0' + v})
	if err != nil {
		return fmt.Errorf("remote-bitbang: write: %w: %v", errs.ErrTransport, err)
	}
	return nil
}

func (c *remoteBitbangCable) readTDO() (bool, error) {
	if _, err := c.conn.Write([]byte{'R'}); err != nil {
		return false, fmt.Errorf("remote-bitbang: write read request: %w: %v", errs.ErrTransport, err)
	}
	b, err := c.reader.ReadByte()
	if err != nil {
		return false, fmt.Errorf("remote-bitbang: read tdo: %w: %v", errs.ErrTransport, err)
	}
	if b != '0' && b != '1' {
		return false, fmt.Errorf("remote-bitbang: unexpected reply %q: %w", b, errs.ErrProtocol)
	}
	return b == '1', nil
}

// shiftOne drives TCK low with the given TMS/TDI, samples TDO while TCK is
// still low when capture is requested, then raises TCK. TCK stays high
// until the next bit drives it low.
func (c *remoteBitbangCable) shiftOne(tms, tdi, capture bool) (bool, error) {
	if err := c.clockOne(false, tms, tdi); err != nil {
		return false, err
	}
	var tdo bool
	var err error
	if capture {
		tdo, err = c.readTDO()
		if err != nil {
			return false, err
		}
	}
	if err := c.clockOne(true, tms, tdi); err != nil {
		return false, err
	}
	return tdo, nil
}

func (c *remoteBitbangCable) SetClockFrequency(hz int) (int, error) {
	// Remote bitbang has no rate negotiation; the server clocks as fast as
	// the TCP round trip allows.
	return hz, nil
}

func (c *remoteBitbangCable) WriteTMS(tmsBits []bool, flush bool) error {
	for _, b := range tmsBits {
		if _, err := c.shiftOne(b, c.lastTDI, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *remoteBitbangCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	if len(tdiBits) == 0 {
		return nil, nil
	}
	var tdo []bool
	if captureTDO {
		tdo = make([]bool, 0, len(tdiBits))
	}
	last := len(tdiBits) - 1
	for i, bit := range tdiBits {
		tms := raiseTMSOnLast && i == last
		b, err := c.shiftOne(tms, bit, captureTDO)
		if err != nil {
			return nil, err
		}
		if captureTDO {
			tdo = append(tdo, b)
		}
	}
	c.lastTDI = tdiBits[last]
	return tdo, nil
}

func (c *remoteBitbangCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.shiftOne(tmsLevel, tdiLevel, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *remoteBitbangCable) Flush() error { return nil } // every shiftOne() is a synchronous round trip

func (c *remoteBitbangCable) BufferCapacityBits() int { return 1 } // no buffering: WriteTMS/WriteTDI send one bit per round trip

func (c *remoteBitbangCable) Close() error {
	if c.conn != nil {
		_, _ = c.conn.Write([]byte{'Q'})
		return c.conn.Close()
	}
	return nil
}
