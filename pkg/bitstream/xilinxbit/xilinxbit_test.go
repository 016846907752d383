package xilinxbit

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildBitFile(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeU16 := func(v uint16) { binary.Write(&buf, binary.BigEndian, v) }
	writeField := func(key byte, value []byte) {
		buf.WriteByte(key)
		if key != 'e' {
			writeU16(uint16(len(value)))
		}
		buf.Write(value)
	}

	// field 1: skipped misc header
	writeU16(2)
	buf.Write([]byte{0x00, 0x09})

	// field 2 length prefix, consumed by Parse before field 'a'
	writeU16(0)

	writeField('a', []byte("design;user;tool\x00"))
	writeField('b', []byte("xc7a35t\x00"))
	writeField('c', []byte("2024/01/01\x00"))
	writeField('d', []byte("12:00:00\x00"))
	fileLen := make([]byte, 4)
	binary.BigEndian.PutUint32(fileLen, uint32(len(payload)))
	writeField('e', fileLen)

	buf.Write(payload)
	return buf.Bytes()
}

func TestParseHeaderFields(t *testing.T) {
	payload := bytes.Repeat([]byte{0x0F}, 8)
	data := buildBitFile(t, payload)

	res, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Header.PartName != "xc7a35t" {
		t.Errorf("part name = %q, want xc7a35t", res.Header.PartName)
	}
	if res.Header.DesignName != "design" || res.Header.UserID != "user" {
		t.Errorf("fieldA split = %q/%q", res.Header.DesignName, res.Header.UserID)
	}
	if len(res.Bits) != len(payload) {
		t.Fatalf("bits length = %d, want %d", len(res.Bits), len(payload))
	}
	for i, b := range res.Bits {
		if b != 0xF0 {
			t.Fatalf("bit-reversed byte %d = %#x, want 0xf0", i, b)
		}
	}
}
