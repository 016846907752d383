// Package icev implements the iceV Wireless upload protocol: a serial
// request/response exchange with an ESP32-C3 companion chip that proxies
// bitstream writes to an ice40's SRAM or its SPIFFS-backed config store.
// It intentionally does not implement cable.Cable: the protocol has no
// notion of TAP states or bit-level JTAG shifting, only whole-file
// transfers and small register reads, so it is modeled as a standalone
// uploader instead of being forced into the JTAG transport abstraction.
package icev

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	serial "github.com/daedaluz/goserial"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Command codes, matching the firmware's cmd_lst enum.
const (
	CmdReadReg   = 0
	CmdWriteReg  = 1
	CmdReadVbat  = 2
	CmdSendCred  = 3
	CmdReadInfo  = 5
	CmdLoadCfg   = 6
	CmdPSRAMInit = 10
	CmdPSRAMRead = 11
	CmdPSRAMWrite = 12
	CmdPrgSPIFFS = 14
	CmdPrgRAM    = 15
)

const cmdMagic = 0xCAFEBE // bytes 1..3 of every request, little-endian after the tagged command byte

// Uploader drives a single iceV Wireless companion chip over a serial port.
type Uploader struct {
	port   *serial.Port
	reader *bufio.Reader
}

// Open opens the serial device and confirms the companion chip responds to
// a battery and info query, mirroring the original constructor's startup
// handshake.
func Open(device string) (*Uploader, error) {
	port, err := serial.Open(device, serial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("icev: open %s: %w: %v", device, errs.ErrTransport, err)
	}
	attrs := &serial.Termios{}
	attrs.Cflag |= serial.CS8 | serial.CREAD | serial.CLOCAL
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("icev: configure: %w: %v", errs.ErrTransport, err)
	}
	u := &Uploader{port: port, reader: bufio.NewReader(port)}
	if _, err := u.ReadVbat(); err != nil {
		port.Close()
		return nil, fmt.Errorf("icev: read vbat: %w", err)
	}
	if _, _, err := u.ReadInfo(); err != nil {
		port.Close()
		return nil, fmt.Errorf("icev: read info: %w", err)
	}
	return u, nil
}

// writeCmd frames cmd+MAGIC+len(payload)+payload, per the companion's
// request layout.
func (u *Uploader) writeCmd(cmd byte, payload []byte) error {
	buf := make([]byte, 0, 8+len(payload))
	buf = append(buf, 0xE0+(cmd&0x0F), 0xBE, 0xFE, 0xCA)
	n := uint32(len(payload))
	buf = append(buf, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	buf = append(buf, payload...)
	if _, err := u.port.Write(buf); err != nil {
		return fmt.Errorf("icev: write: %w: %v", errs.ErrTransport, err)
	}
	return nil
}

func regPayload(reg uint32) []byte {
	return []byte{byte(reg), byte(reg >> 8), byte(reg >> 16), byte(reg >> 24)}
}

// readTokens reads one newline-terminated status line of the form
// "... RX <hex error code> <tok0> <tok1> ...".
func (u *Uploader) readTokens() (int, []string, error) {
	line, err := u.reader.ReadString('\n')
	if err != nil {
		return 0, nil, fmt.Errorf("icev: read: %w: %v", errs.ErrTransport, err)
	}
	words := strings.Fields(line)
	for i, w := range words {
		if w == "RX" && i+2 <= len(words) {
			code, err := strconv.ParseUint(words[i+1], 16, 32)
			if err != nil {
				return 0, nil, fmt.Errorf("icev: malformed status %q: %w", words[i+1], errs.ErrProtocol)
			}
			return int(code), words[i+2:], nil
		}
	}
	return 0, nil, fmt.Errorf("icev: no RX token in %q: %w", line, errs.ErrProtocol)
}

func (u *Uploader) wrRdTokens(cmd byte, reg uint32) (int, []string, error) {
	if err := u.writeCmd(cmd, regPayload(reg)); err != nil {
		return 0, nil, err
	}
	return u.readTokens()
}

func (u *Uploader) wrRdScalar(cmd byte, payload []byte) (int, string, error) {
	if err := u.writeCmd(cmd, payload); err != nil {
		return 0, "", err
	}
	code, toks, err := u.readTokens()
	if err != nil {
		return 0, "", err
	}
	if code != 0 || len(toks) == 0 {
		return code, "", nil
	}
	return code, toks[0], nil
}

// ReadVbat reads the battery voltage in millivolts.
func (u *Uploader) ReadVbat() (int, error) {
	code, rx, err := u.wrRdScalar(CmdReadVbat, regPayload(0))
	if err != nil {
		return 0, err
	}
	if code != 0 {
		return 0, fmt.Errorf("icev: read vbat status 0x%x: %w", code, errs.ErrProtocol)
	}
	v, err := strconv.ParseUint(rx, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("icev: malformed vbat %q: %w", rx, errs.ErrProtocol)
	}
	return int(v), nil
}

// ReadInfo reads the companion's firmware version and current IP address.
func (u *Uploader) ReadInfo() (version, ipaddr string, err error) {
	code, toks, err := u.wrRdTokens(CmdReadInfo, 0)
	if err != nil {
		return "", "", err
	}
	if code != 0 || len(toks) < 2 {
		return "", "", fmt.Errorf("icev: read info status 0x%x: %w", code, errs.ErrProtocol)
	}
	return toks[0], toks[1], nil
}

// ReadReg reads a 32-bit register.
func (u *Uploader) ReadReg(reg uint32) (uint32, error) {
	code, rx, err := u.wrRdScalar(CmdReadReg, regPayload(reg))
	if err != nil {
		return 0, err
	}
	if code != 0 {
		return 0, fmt.Errorf("icev: read reg status 0x%x: %w", code, errs.ErrProtocol)
	}
	v, err := strconv.ParseUint(rx, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("icev: malformed reg value %q: %w", rx, errs.ErrProtocol)
	}
	return uint32(v), nil
}

// SendCred uploads a wireless SSID (kind=0) or passphrase (kind=1).
func (u *Uploader) SendCred(kind uint8, value string) error {
	payload := append([]byte(value), 0)
	if err := u.writeCmd(CmdSendCred+(kind&0x01), payload); err != nil {
		return err
	}
	code, _, err := u.readTokens()
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("icev: send cred status 0x%x: %w", code, errs.ErrProtocol)
	}
	return nil
}

// LoadCfg loads a stored SPIFFS configuration (0: default, 1: SPI pass).
func (u *Uploader) LoadCfg(reg uint32) error {
	code, _, err := u.wrRdTokens(CmdLoadCfg, reg)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("icev: load cfg status 0x%x: %w", code, errs.ErrProtocol)
	}
	return nil
}

// SendFile transfers raw bitstream bytes to either SPIFFS (cmd=CmdPrgSPIFFS)
// or directly to ice40 SRAM (cmd=CmdPrgRAM).
func (u *Uploader) SendFile(cmd byte, data []byte) error {
	if err := u.writeCmd(cmd, data); err != nil {
		return err
	}
	code, _, err := u.readTokens()
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("icev: program status 0x%x: %w", code, errs.ErrFlashProgramFailed)
	}
	return nil
}

func (u *Uploader) Close() error {
	if u.port != nil {
		return u.port.Close()
	}
	return nil
}
