package spiflash

import (
	"bytes"
	"testing"
)

// fakeTransport models a SPI-NOR part: status register state plus a flat
// byte array standing in for the whole chip, addressed the way the
// commands above address it.
type fakeTransport struct {
	status byte
	chip   []byte
	calls  [][]byte
}

func newFakeTransport(size int) *fakeTransport {
	chip := make([]byte, size)
	for i := range chip {
		chip[i] = 0xff
	}
	return &fakeTransport{chip: chip}
}

func (f *fakeTransport) WriteRead(tx []byte, rxLen int) ([]byte, error) {
	f.calls = append(f.calls, append([]byte(nil), tx...))
	switch tx[0] {
	case cmdWriteEnable:
		f.status |= statusWEL
	case cmdReadStatus:
		return []byte{f.status}, nil
	case cmdSectorErase:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		for i := addr; i < addr+SectorSize && i < len(f.chip); i++ {
			f.chip[i] = 0xff
		}
		f.status &^= statusWEL
	case cmdPageProgram:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		copy(f.chip[addr:], tx[4:])
		f.status &^= statusWEL
	case cmdReadDevID:
		return []byte{0x15}, nil
	case cmdReadSiliconID:
		return []byte{0x14}, nil
	case cmdFastRead:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		return append([]byte(nil), f.chip[addr:addr+rxLen]...), nil
	}
	if rxLen == 0 {
		return nil, nil
	}
	return make([]byte, rxLen), nil
}

func TestReadIDPacksDeviceAndSiliconID(t *testing.T) {
	p := NewProgrammer(newFakeTransport(SectorSize), false)
	id, err := p.ReadID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x1514 {
		t.Fatalf("ReadID = %#x, want 0x1514", id)
	}
}

func TestEraseAndProgramWritesExpectedBytes(t *testing.T) {
	ft := newFakeTransport(2 * SectorSize)
	p := NewProgrammer(ft, false)
	data := bytes.Repeat([]byte{0xAB}, PageSize+10)
	if err := p.EraseAndProgram(0, data); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ft.chip[:len(data)], data) {
		t.Fatal("programmed bytes do not match source data")
	}
}

func TestEraseAndProgramErasesExactlyEnoughSectors(t *testing.T) {
	ft := newFakeTransport(3 * SectorSize)
	p := NewProgrammer(ft, false)
	// One byte past a sector boundary must still erase 2 sectors, not 3
	// (the off-by-one epcq.cpp's "nb_sectors >= 0" loop would erase).
	data := make([]byte, SectorSize+1)
	if err := p.EraseAndProgram(0, data); err != nil {
		t.Fatal(err)
	}
	eraseCount := 0
	for _, c := range ft.calls {
		if c[0] == cmdSectorErase {
			eraseCount++
		}
	}
	if eraseCount != 2 {
		t.Fatalf("erase_sector issued %d times, want 2", eraseCount)
	}
}

func TestDumpReadsHeapAllocatedBuffer(t *testing.T) {
	ft := newFakeTransport(SectorSize)
	copy(ft.chip, []byte{0x11, 0x22, 0x33, 0x44})
	p := NewProgrammer(ft, false)
	out, err := p.Dump(0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{0x11, 0x22, 0x33, 0x44}) {
		t.Fatalf("Dump = %v", out)
	}
}

func TestConvertLSBReversesBitOrder(t *testing.T) {
	if got := convertLSB(0b10110000); got != 0b00001101 {
		t.Fatalf("convertLSB(0xb0) = %08b, want %08b", got, 0b00001101)
	}
}
