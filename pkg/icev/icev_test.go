package icev

import (
	"bufio"
	"errors"
	"strings"
	"testing"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

func newReaderUploader(response string) *Uploader {
	return &Uploader{reader: bufio.NewReader(strings.NewReader(response))}
}

func TestReadTokensParsesStatusAndTrailingWords(t *testing.T) {
	u := newReaderUploader("junk prefix RX 0 deadbeef ok\n")
	code, toks, err := u.readTokens()
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if len(toks) != 2 || toks[0] != "deadbeef" || toks[1] != "ok" {
		t.Fatalf("toks = %v", toks)
	}
}

func TestReadTokensNonZeroStatus(t *testing.T) {
	u := newReaderUploader("RX 7\n")
	code, toks, err := u.readTokens()
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Fatalf("code = %d, want 7", code)
	}
	if len(toks) != 0 {
		t.Fatalf("toks = %v, want empty", toks)
	}
}

func TestReadTokensMissingRXTokenIsProtocolError(t *testing.T) {
	u := newReaderUploader("no status marker here\n")
	_, _, err := u.readTokens()
	if !errors.Is(err, errs.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestReadTokensMalformedStatusIsProtocolError(t *testing.T) {
	u := newReaderUploader("RX zz\n")
	_, _, err := u.readTokens()
	if !errors.Is(err, errs.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestRegPayloadIsLittleEndian(t *testing.T) {
	got := regPayload(0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("regPayload(0x01020304) = % x, want % x", got, want)
		}
	}
}
