package bitstream

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestLoadRawFallsBackOnUnknownExtension(t *testing.T) {
	art, err := Load("firmware.bin", []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatal(err)
	}
	if art.Format != FormatRaw {
		t.Fatalf("Format = %v, want raw", art.Format)
	}
	if !bytes.Equal(art.Bits, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("Bits = %x", art.Bits)
	}
}

func TestLoadUnwrapsGzipBeforeDispatch(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	payload := []byte{0xAA, 0xBB, 0xCC}
	if _, err := zw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	art, err := Load("image.rpd.gz", buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if art.Format != FormatAlteraRPD {
		t.Fatalf("Format = %v, want rpd", art.Format)
	}
	if !bytes.Equal(art.Bits, payload) {
		t.Fatalf("Bits = %x, want %x", art.Bits, payload)
	}
}
