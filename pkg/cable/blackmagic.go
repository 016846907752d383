package cable

import (
	"bufio"
	"fmt"

	serial "github.com/daedaluz/goserial"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Blackmagic Probe's remote protocol is ASCII, framed between '!' and '#',
// carried over the probe's CDC-ACM GDB-remote serial port (§6). A shift
// request is "!J<tms_hex><tdi_hex><capture><n>#", where <capture> is '1'
// when TDO is wanted and '0' otherwise, and the reply echoes captured TDO
// as hex, terminated with '#'.
type blackmagicCable struct {
	port   *serial.Port
	reader *bufio.Reader

	lastTDI bool
}

func newBlackmagicCable(d Descriptor) (Cable, error) {
	port, err := serial.Open(d.TTYPath, serial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("blackmagic: open %s: %w: %v", d.TTYPath, errs.ErrTransport, err)
	}
	attrs := &serial.Termios{}
	attrs.Cflag |= serial.CS8 | serial.CREAD | serial.CLOCAL
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("blackmagic: configure: %w: %v", errs.ErrTransport, err)
	}
	c := &blackmagicCable{port: port, reader: bufio.NewReader(portReader{port})}
	if err := c.cmd("!GJ#"); err != nil {
		port.Close()
		return nil, fmt.Errorf("blackmagic: enter JTAG mode: %w", err)
	}
	return c, nil
}

// portReader adapts *serial.Port to io.Reader for bufio.
type portReader struct{ p *serial.Port }

func (r portReader) Read(b []byte) (int, error) { return r.p.Read(b) }

func (c *blackmagicCable) cmd(frame string) error {
	if _, err := c.port.Write([]byte(frame)); err != nil {
		return fmt.Errorf("blackmagic: write: %w: %v", errs.ErrTransport, err)
	}
	line, err := c.reader.ReadString('#')
	if err != nil {
		return fmt.Errorf("blackmagic: read reply: %w: %v", errs.ErrTransport, err)
	}
	if len(line) == 0 || line[0] == '!' {
		return fmt.Errorf("blackmagic: error reply %q: %w", line, errs.ErrProtocol)
	}
	return nil
}

func hexNibble(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'a' + (b - 10)
}

func bitsToHex(bits []bool) string {
	out := make([]byte, 0, (len(bits)+3)/4)
	for i := 0; i < len(bits); i += 4 {
		var nib byte
		for j := 0; j < 4 && i+j < len(bits); j++ {
			if bits[i+j] {
				nib |= 1 << uint(j)
			}
		}
		out = append(out, hexNibble(nib))
	}
	return string(out)
}

func (c *blackmagicCable) shift(tms, tdi []bool, capture bool) ([]bool, error) {
	n := len(tdi)
	if n == 0 {
		return nil, nil
	}
	flag := "0"
	if capture {
		flag = "1"
	}
	frame := fmt.Sprintf("!J%s%s%s%d#", bitsToHex(tms), bitsToHex(tdi), flag, n)
	if _, err := c.port.Write([]byte(frame)); err != nil {
		return nil, fmt.Errorf("blackmagic: write: %w: %v", errs.ErrTransport, err)
	}
	line, err := c.reader.ReadString('#')
	if err != nil {
		return nil, fmt.Errorf("blackmagic: read reply: %w: %v", errs.ErrTransport, err)
	}
	if len(line) == 0 || line[0] == '!' {
		return nil, fmt.Errorf("blackmagic: error reply %q: %w", line, errs.ErrProtocol)
	}
	if !capture {
		return nil, nil
	}
	tdo := make([]bool, n)
	for i := 0; i < n; i++ {
		nibIdx := i / 4
		if nibIdx >= len(line) {
			break
		}
		var v byte
		ch := line[nibIdx]
		switch {
		case ch >= '0' && ch <= '9':
			v = ch - '0'
		case ch >= 'a' && ch <= 'f':
			v = ch - 'a' + 10
		}
		tdo[i] = v&(1<<uint(i%4)) != 0
	}
	return tdo, nil
}

func (c *blackmagicCable) SetClockFrequency(hz int) (int, error) {
	khz := hz / 1000
	if khz < 1 {
		khz = 1
	}
	if err := c.cmd(fmt.Sprintf("!F%04x#", khz)); err != nil {
		return 0, err
	}
	return khz * 1000, nil
}

func (c *blackmagicCable) WriteTMS(tmsBits []bool, flush bool) error {
	if len(tmsBits) == 0 {
		return nil
	}
	tdi := make([]bool, len(tmsBits))
	for i := range tdi {
		tdi[i] = c.lastTDI
	}
	_, err := c.shift(tmsBits, tdi, false)
	return err
}

func (c *blackmagicCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	if len(tdiBits) == 0 {
		return nil, nil
	}
	tms := make([]bool, len(tdiBits))
	if raiseTMSOnLast {
		tms[len(tms)-1] = true
	}
	c.lastTDI = tdiBits[len(tdiBits)-1]
	return c.shift(tms, tdiBits, captureTDO)
}

func (c *blackmagicCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	if n <= 0 {
		return nil
	}
	tms := make([]bool, n)
	tdi := make([]bool, n)
	for i := 0; i < n; i++ {
		tms[i] = tmsLevel
		tdi[i] = tdiLevel
	}
	_, err := c.shift(tms, tdi, false)
	return err
}

func (c *blackmagicCable) Flush() error { return nil } // every shift() is a synchronous request/reply

func (c *blackmagicCable) BufferCapacityBits() int { return 1024 }

func (c *blackmagicCable) Close() error {
	if c.port != nil {
		return c.port.Close()
	}
	return nil
}
