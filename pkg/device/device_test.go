package device

import (
	"testing"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream"
	"github.com/openjtagtools/fpgaflash/pkg/device/idtable"
	"github.com/openjtagtools/fpgaflash/pkg/jtagengine"
	"github.com/openjtagtools/fpgaflash/pkg/tap"
)

// fixedCable is a cable.Cable double that, on every captured shift,
// returns a fixed byte pattern truncated/zero-padded to the requested
// length, regardless of what was shifted in. Good enough to drive a
// device driver's read-back paths (IDCODE, status polling) without
// modeling real silicon.
type fixedCable struct {
	sm       *tap.StateMachine
	tdoBytes []byte
}

func newFixedCable(tdoBytes []byte) *fixedCable {
	return &fixedCable{sm: tap.NewStateMachine(), tdoBytes: tdoBytes}
}

func (f *fixedCable) SetClockFrequency(hz int) (int, error) { return hz, nil }

func (f *fixedCable) WriteTMS(tmsBits []bool, flush bool) error {
	for _, b := range tmsBits {
		f.sm.Clock(b)
	}
	return nil
}

func (f *fixedCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	var tdo []bool
	if captureTDO {
		tdo = make([]bool, len(tdiBits))
		for i := range tdo {
			byteIdx := i / 8
			if byteIdx < len(f.tdoBytes) {
				tdo[i] = f.tdoBytes[byteIdx]&(1<<uint(i%8)) != 0
			}
		}
	}
	n := len(tdiBits)
	for i := range tdiBits {
		f.sm.Clock(raiseTMSOnLast && i == n-1)
	}
	return tdo, nil
}

func (f *fixedCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	for i := 0; i < n; i++ {
		f.sm.Clock(tmsLevel)
	}
	return nil
}

func (f *fixedCable) Flush() error           { return nil }
func (f *fixedCable) BufferCapacityBits() int { return 1 << 20 }
func (f *fixedCable) Close() error           { return nil }

func TestXilinxIDCode(t *testing.T) {
	fc := newFixedCable([]byte{0x93, 0xd0, 0x62, 0x03})
	eng := jtagengine.New(fc)
	x := NewXilinx(eng, idtable.Descriptor{IRLen: 6}, nil, nil, nil)
	id, err := x.IDCode()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x0362D093 {
		t.Fatalf("IDCode = %#x, want 0x0362d093", id)
	}
}

func TestXilinxProgramSPIWithoutBridgeIsConfigurationError(t *testing.T) {
	fc := newFixedCable(nil)
	eng := jtagengine.New(fc)
	art := &bitstream.Artifact{Format: bitstream.FormatIntelHex, Bits: []byte{1, 2, 3}}
	x := NewXilinx(eng, idtable.Descriptor{IRLen: 6}, art, nil, nil)
	if err := x.Program(0); err == nil {
		t.Fatal("expected configuration error without a bridge/flash programmer")
	}
}

func TestGowinIDCode(t *testing.T) {
	fc := newFixedCable([]byte{0x1b, 0x58, 0x00, 0x11})
	eng := jtagengine.New(fc)
	g := NewGowin(eng, idtable.Descriptor{IRLen: 8}, nil)
	id, err := g.IDCode()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x1100581B {
		t.Fatalf("IDCode = %#x, want 0x1100581b", id)
	}
}

// scriptedCable returns one fixed 32-bit capture per call, in order,
// advancing past the end with zeros. Models the sequence of status-
// register/usercode reads a Gowin Program() run performs.
type scriptedCable struct {
	sm    *tap.StateMachine
	words [][]byte
	call  int
}

func (f *scriptedCable) SetClockFrequency(hz int) (int, error) { return hz, nil }
func (f *scriptedCable) WriteTMS(tmsBits []bool, flush bool) error {
	for _, b := range tmsBits {
		f.sm.Clock(b)
	}
	return nil
}
func (f *scriptedCable) WriteTDI(tdiBits []bool, captureTDO bool, raiseTMSOnLast bool) ([]bool, error) {
	var tdo []bool
	if captureTDO {
		var word []byte
		if f.call < len(f.words) {
			word = f.words[f.call]
		}
		f.call++
		tdo = make([]bool, len(tdiBits))
		for i := range tdo {
			byteIdx := i / 8
			if byteIdx < len(word) {
				tdo[i] = word[byteIdx]&(1<<uint(i%8)) != 0
			}
		}
	}
	n := len(tdiBits)
	for i := range tdiBits {
		f.sm.Clock(raiseTMSOnLast && i == n-1)
	}
	return tdo, nil
}
func (f *scriptedCable) ToggleClock(tmsLevel, tdiLevel bool, n int) error {
	for i := 0; i < n; i++ {
		f.sm.Clock(tmsLevel)
	}
	return nil
}
func (f *scriptedCable) Flush() error           { return nil }
func (f *scriptedCable) BufferCapacityBits() int { return 1 << 20 }
func (f *scriptedCable) Close() error           { return nil }

func TestGowinProgramVerifiesChecksum(t *testing.T) {
	fc := &scriptedCable{
		sm: tap.NewStateMachine(),
		words: [][]byte{
			{0x80, 0x00, 0x00, 0x00}, // enableCfg: SYSTEM_EDIT_MODE set
			{0x20, 0x00, 0x00, 0x00}, // eraseSRAM: MEMORY_ERASE set
			{0x00, 0x00, 0x00, 0x00}, // disableCfg: SYSTEM_EDIT_MODE clear
			{0x80, 0x00, 0x00, 0x00}, // enableCfg again
			{0x00, 0x20, 0x00, 0x00}, // flashSRAM: DONE_FINAL set
			{0x00, 0x00, 0x00, 0x00}, // disableCfg: SYSTEM_EDIT_MODE clear
			{0x00, 0x00, 0x00, 0x00}, // readUserCode: matches the artifact's checksum
		},
	}
	eng := jtagengine.New(fc)
	art := &bitstream.Artifact{Format: bitstream.FormatGowinFS, Bits: []byte{0xAA, 0xBB}, Checksum: 0}
	g := NewGowin(eng, idtable.Descriptor{IRLen: 8}, art)
	if err := g.Program(0); err != nil {
		t.Fatal(err)
	}
}

func TestLatticeIDCode(t *testing.T) {
	fc := newFixedCable([]byte{0x43, 0x10, 0x11, 0x21})
	eng := jtagengine.New(fc)
	l := NewLattice(eng, idtable.Descriptor{IRLen: 8}, nil)
	id, err := l.IDCode()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x21111043 {
		t.Fatalf("IDCode = %#x, want 0x21111043", id)
	}
}

func TestAlteraIDCode(t *testing.T) {
	fc := newFixedCable([]byte{0xDD, 0x50, 0x0F, 0x02})
	eng := jtagengine.New(fc)
	a := NewAltera(eng, idtable.Descriptor{IRLen: 10}, nil, nil, nil)
	id, err := a.IDCode()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x020F50DD {
		t.Fatalf("IDCode = %#x, want 0x020f50dd", id)
	}
}
