// Package cable implements C1, the byte-level cable transport layer. Each
// supported adapter family gets its own type behind the shared Cable
// interface; the JTAG engine (pkg/jtagengine) never sees transport-specific
// details, per the capability-set redesign in spec §9.
package cable

import (
	"fmt"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Kind identifies a cable family.
type Kind string

const (
	KindMPSSE          Kind = "mpsse"
	KindESPUSBJTAG     Kind = "esp-usb-jtag"
	KindJLink          Kind = "jlink"
	KindFX2            Kind = "fx2"
	KindBlackmagic     Kind = "blackmagic"
	KindXVC            Kind = "xvc"
	KindRemoteBitbang  Kind = "remote-bitbang"
)

// Descriptor is the immutable, by-name cable configuration (§3 "Cable
// descriptor"): USB VID/PID, interface index, idle pin levels/directions,
// and any type-specific pin mapping. Selected by name at startup; never
// mutated afterward.
type Descriptor struct {
	Kind      Kind
	Name      string
	VID, PID  uint16
	Interface int

	// Idle values/directions for the low and high GPIO byte on MPSSE-class
	// adapters (AN_108/AN_135); unused by non-FTDI cables.
	LowByteIdleValue, LowByteIdleDir   byte
	HighByteIdleValue, HighByteIdleDir byte

	// TCP host:port for network-attached cables (XVC, remote-bitbang).
	Address string

	// Serial device path for tty-attached cables (Blackmagic, iCEV).
	TTYPath string
}

// descriptors is the static, read-only table of cable descriptors selected
// by name at startup (§3, §4.6 step 1/2). Never mutated at runtime.
var descriptors = map[string]Descriptor{
	"ft2232": {
		Kind: KindMPSSE, Name: "ft2232", VID: 0x0403, PID: 0x6010, Interface: 0,
		LowByteIdleValue: 0x08, LowByteIdleDir: 0x0b,
	},
	"ft231x": {
		Kind: KindMPSSE, Name: "ft231x", VID: 0x0403, PID: 0x6015, Interface: 0,
		LowByteIdleValue: 0x08, LowByteIdleDir: 0x0b,
	},
	"usb_blaster": {
		Kind: KindMPSSE, Name: "usb_blaster", VID: 0x09fb, PID: 0x6001, Interface: 0,
		LowByteIdleValue: 0x08, LowByteIdleDir: 0x1b,
	},
	"gowin_bridge": {
		Kind: KindMPSSE, Name: "gowin_bridge", VID: 0x0403, PID: 0x6010, Interface: 0,
		LowByteIdleValue: 0x08, LowByteIdleDir: 0x0b,
	},
	"esp-usb-jtag": {
		Kind: KindESPUSBJTAG, Name: "esp-usb-jtag", VID: 0x303a, PID: 0x1001, Interface: 0,
	},
	"jlink": {
		Kind: KindJLink, Name: "jlink", VID: 0x1366, PID: 0x0101, Interface: 0,
	},
	"fx2": {
		Kind: KindFX2, Name: "fx2", VID: 0x1443, PID: 0x0007, Interface: 0,
	},
	"blackmagic": {
		Kind: KindBlackmagic, Name: "blackmagic", TTYPath: "/dev/ttyBmpGdb",
	},
	"xvc": {
		Kind: KindXVC, Name: "xvc", Address: "127.0.0.1:2542",
	},
	"remote-bitbang": {
		Kind: KindRemoteBitbang, Name: "remote-bitbang", Address: "127.0.0.1:3335",
	},
}

// Lookup resolves a cable descriptor by name.
func Lookup(name string) (Descriptor, bool) {
	d, ok := descriptors[name]
	return d, ok
}

// Cable is the shared contract every transport implements, consumed only by
// pkg/jtagengine. Bit slices use one bool per bit (MSB/LSB order is the
// caller's concern; the cable just reproduces the requested sequence on the
// wire in the order given).
type Cable interface {
	// SetClockFrequency negotiates the TCK rate: requested Hz is rounded
	// down to the nearest supported divisor and the actual Hz is returned.
	SetClockFrequency(hz int) (actual int, err error)

	// WriteTMS feeds TMS bits while holding TDI at its last driven value.
	// len(tmsBits)==0 with flush=true is a pure flush.
	WriteTMS(tmsBits []bool, flush bool) error

	// WriteTDI shifts tdiBits. When captureTDO is true the returned slice
	// has the same length as tdiBits; otherwise it is nil. When
	// raiseTMSOnLast is true, TMS rises synchronously with the final TDI
	// bit (the Shift->Exit1 transition).
	WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error)

	// ToggleClock idles n clocks holding TMS/TDI at fixed levels; it never
	// captures TDO.
	ToggleClock(tmsLevel, tdiLevel bool, n int) error

	// Flush forces any buffered bits to the wire.
	Flush() error

	// BufferCapacityBits reports how many bits this transport can hold
	// before an internal flush is required.
	BufferCapacityBits() int

	// Close releases the underlying USB/TCP/serial handle and any buffers,
	// including on error paths (spec §5 resource discipline).
	Close() error
}

// Open constructs the Cable for the named descriptor.
func Open(name string) (Cable, error) {
	d, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("cable %q: %w", name, errs.ErrConfiguration)
	}
	switch d.Kind {
	case KindMPSSE:
		return newMPSSECable(d)
	case KindESPUSBJTAG:
		return newESPUSBJTAGCable(d)
	case KindJLink:
		return newJLinkCable(d)
	case KindFX2:
		return newFX2Cable(d)
	case KindBlackmagic:
		return newBlackmagicCable(d)
	case KindXVC:
		return newXVCCable(d)
	case KindRemoteBitbang:
		return newRemoteBitbangCable(d)
	default:
		return nil, fmt.Errorf("cable %q: unhandled kind %s: %w", name, d.Kind, errs.ErrConfiguration)
	}
}

// packBitsLSB packs a []bool (one bit per element, first element is bit 0)
// into bytes, LSB first within each byte. Shared by every byte-oriented
// transport (MPSSE, ESP-USB-JTAG, J-Link, FX2).
func packBitsLSB(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// unpackBitsLSB is the inverse of packBitsLSB, trimmed to n bits.
func unpackBitsLSB(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}
