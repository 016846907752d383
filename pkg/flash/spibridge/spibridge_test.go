package spibridge

import (
	"bytes"
	"testing"
)

// fakeEngine echoes back whatever pattern a test pre-loads into resp,
// one bit per DR bit, so WriteRead's bit packing/unpacking can be checked
// without a real SPI part behind it.
type fakeEngine struct {
	irLen    int
	lastIR   []bool
	lastDR   []bool
	resp     []bool
}

func (f *fakeEngine) ShiftIR(bits []bool, capture bool) ([]bool, error) {
	f.lastIR = append([]bool(nil), bits...)
	return nil, nil
}

func (f *fakeEngine) ShiftDR(bits []bool, capture bool) ([]bool, error) {
	f.lastDR = append([]bool(nil), bits...)
	if !capture {
		return nil, nil
	}
	out := make([]bool, len(bits))
	copy(out, f.resp)
	return out, nil
}

func (f *fakeEngine) Flush() error { return nil }

func TestSelectUser1SetsIRBits(t *testing.T) {
	fe := &fakeEngine{}
	b := New(fe, 6)
	if err := b.selectUser1(); err != nil {
		t.Fatal(err)
	}
	if len(fe.lastIR) != 6 {
		t.Fatalf("IR len = %d, want 6", len(fe.lastIR))
	}
	var got int
	for i, bit := range fe.lastIR {
		if bit {
			got |= 1 << uint(i)
		}
	}
	if got != user1 {
		t.Fatalf("IR value = %#x, want %#x", got, user1)
	}
}

func TestWriteReadPacksMSBFirst(t *testing.T) {
	fe := &fakeEngine{}
	b := New(fe, 6)
	if _, err := b.WriteRead([]byte{0xA5}, 0); err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, true, false, false, true, false, true} // 0xA5 MSB first
	if len(fe.lastDR) != 8 {
		t.Fatalf("DR len = %d, want 8", len(fe.lastDR))
	}
	for i := range want {
		if fe.lastDR[i] != want[i] {
			t.Fatalf("bit %d = %v, want %v", i, fe.lastDR[i], want[i])
		}
	}
}

func TestWriteReadExtractsTrailingResponseBytes(t *testing.T) {
	fe := &fakeEngine{}
	// resp must be long enough to cover tx bits + rx bits; only the bits at
	// the rx tail matter to WriteRead, set them to 0x99 MSB-first.
	resp := make([]bool, 8+8)
	pattern := byte(0x99)
	for i := 0; i < 8; i++ {
		resp[8+i] = pattern&(1<<uint(7-i)) != 0
	}
	fe.resp = resp

	b := New(fe, 6)
	out, err := b.WriteRead([]byte{0x03}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{0x99}) {
		t.Fatalf("out = %#v, want [0x99]", out)
	}
}
