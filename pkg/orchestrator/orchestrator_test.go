package orchestrator

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream"
	"github.com/openjtagtools/fpgaflash/pkg/device"
	"github.com/openjtagtools/fpgaflash/pkg/device/idtable"
	"github.com/openjtagtools/fpgaflash/pkg/flash/bpibridge"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
	"github.com/openjtagtools/fpgaflash/pkg/jtagengine"
)

// minimalBitFile builds a syntactically valid Xilinx .bit container
// (xilinxbit.Parse's field grammar) wrapping an all-zero payload, so tests
// that only care about bridge-selection logic don't need a real bitstream.
func minimalBitFile(payloadLen int) []byte {
	field := func(key byte, value []byte) []byte {
		out := []byte{key}
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(value)))
		out = append(out, l[:]...)
		return append(out, value...)
	}
	var buf []byte
	var skipLen [2]byte
	binary.BigEndian.PutUint16(skipLen[:], 9)
	buf = append(buf, skipLen[:]...)
	buf = append(buf, make([]byte, 9)...)
	buf = append(buf, 0, 1) // second, unused length field
	buf = append(buf, field('a', []byte("design;userid;tool\x00"))...)
	buf = append(buf, field('b', []byte("part\x00"))...)
	buf = append(buf, field('c', []byte("date\x00"))...)
	buf = append(buf, field('d', []byte("time\x00"))...)
	buf = append(buf, 'e')
	var plen [4]byte
	binary.BigEndian.PutUint32(plen[:], uint32(payloadLen))
	buf = append(buf, plen[:]...)
	buf = append(buf, make([]byte, payloadLen)...)
	return buf
}

// fakeCable is a no-op cable.Cable, enough to construct a *jtagengine.Engine
// for driver-construction tests that never actually shift bits (SetIRLength
// is a field assignment, not I/O).
type fakeCable struct{}

func (fakeCable) SetClockFrequency(hz int) (int, error)                    { return hz, nil }
func (fakeCable) WriteTMS(bits []bool, flush bool) error                   { return nil }
func (fakeCable) WriteTDI(bits []bool, capture, raiseTMS bool) ([]bool, error) { return nil, nil }
func (fakeCable) ToggleClock(tms, tdi bool, n int) error                   { return nil }
func (fakeCable) Flush() error                                            { return nil }
func (fakeCable) BufferCapacityBits() int                                 { return 1 << 20 }
func (fakeCable) Close() error                                            { return nil }

func newTestEngine() *jtagengine.Engine {
	return jtagengine.New(fakeCable{})
}

func TestResolveCableNameExplicitCableWins(t *testing.T) {
	got, err := resolveCableName(Options{Cable: "jlink", Board: "arty"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "jlink" {
		t.Fatalf("got %q, want jlink", got)
	}
}

func TestResolveCableNameFallsBackToBoard(t *testing.T) {
	got, err := resolveCableName(Options{Board: "tangnano9k"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "gowin_bridge" {
		t.Fatalf("got %q, want gowin_bridge", got)
	}
}

func TestResolveCableNameDefaultsToFT2232(t *testing.T) {
	got, err := resolveCableName(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ft2232" {
		t.Fatalf("got %q, want ft2232", got)
	}
}

func TestResolveCableNameUnknownBoardErrors(t *testing.T) {
	_, err := resolveCableName(Options{Board: "no_such_board"})
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestResolveCableNameUnknownCableErrors(t *testing.T) {
	_, err := resolveCableName(Options{Cable: "no_such_cable"})
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestBuildDriverDispatchesByVendor(t *testing.T) {
	cases := []struct {
		name string
		desc idtable.Descriptor
		art  *bitstream.Artifact
	}{
		{"gowin", idtable.Descriptor{Vendor: idtable.VendorGowin, IRLen: 8}, &bitstream.Artifact{Format: bitstream.FormatGowinFS}},
		{"lattice", idtable.Descriptor{Vendor: idtable.VendorLattice, IRLen: 8}, &bitstream.Artifact{Format: bitstream.FormatJED}},
		{"xilinx mem", idtable.Descriptor{Vendor: idtable.VendorXilinx, IRLen: 6}, &bitstream.Artifact{Format: bitstream.FormatXilinxBit}},
		{"altera mem", idtable.Descriptor{Vendor: idtable.VendorAltera, IRLen: 10}, &bitstream.Artifact{Format: bitstream.FormatRaw, Bits: []byte("SIR 6 TDI (00);")}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			drv, err := buildDriver(newTestEngine(), c.desc, c.art, "ft2232", t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			if drv == nil {
				t.Fatal("nil driver")
			}
			var _ device.Driver = drv
		})
	}
}

func TestBuildDriverUnknownVendorIsUnsupported(t *testing.T) {
	_, err := buildDriver(newTestEngine(), idtable.Descriptor{Vendor: "unknown"}, &bitstream.Artifact{}, "ft2232", t.TempDir())
	if !errors.Is(err, errs.ErrUnsupportedDevice) {
		t.Fatalf("err = %v, want ErrUnsupportedDevice", err)
	}
}

func TestXilinxFlashBridgeRequiresFlashBridgeName(t *testing.T) {
	_, _, err := xilinxFlashBridge(newTestEngine(), idtable.Descriptor{Model: "XC7A35T"}, t.TempDir())
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestXilinxFlashBridgePicksBPIBridgeByNamePrefix(t *testing.T) {
	dir := t.TempDir()
	// a minimal .bit container is enough: xilinxFlashBridge only needs
	// bitstream.Load to accept the bridge file before it picks the bridge
	// by the FlashBridge name prefix.
	if err := os.WriteFile(filepath.Join(dir, "bpi_xc6vlx240t.bit"), minimalBitFile(16), 0o644); err != nil {
		t.Fatal(err)
	}
	_, flash, err := xilinxFlashBridge(newTestEngine(), idtable.Descriptor{Model: "XC6VLX240T", FlashBridge: "bpi_xc6vlx240t", IRLen: 6}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if flash == nil {
		t.Fatal("nil flash programmer")
	}
	if _, ok := flash.(*bpibridge.Bridge); !ok {
		t.Fatalf("flash = %T, want *bpibridge.Bridge", flash)
	}
}

func TestReadBridgeFileMissingIsConfigurationError(t *testing.T) {
	_, err := readBridgeFile(t.TempDir(), "nope.bit")
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
