package cmd

import (
	"fmt"
	"testing"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

func TestExitCodeForSuccess(t *testing.T) {
	if got := exitCodeFor(nil); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestExitCodeForConfigurationAndUnsupportedAreOne(t *testing.T) {
	cases := []error{
		fmt.Errorf("bad cable: %w", errs.ErrConfiguration),
		fmt.Errorf("idcode: %w", errs.ErrUnsupportedDevice),
	}
	for _, err := range cases {
		if got := exitCodeFor(err); got != 1 {
			t.Fatalf("exitCodeFor(%v) = %d, want 1", err, got)
		}
	}
}

func TestExitCodeForProgrammingFailureIsNonzeroButNotOne(t *testing.T) {
	err := fmt.Errorf("flash wedged: %w", errs.ErrFlashProgramFailed)
	got := exitCodeFor(err)
	if got == 0 || got == 1 {
		t.Fatalf("exitCodeFor(%v) = %d, want nonzero and != 1", err, got)
	}
}

func TestParseOffsetAcceptsHexAndDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"0x100000", 0x100000},
		{"0X10", 0x10},
		{"65536", 65536},
		{"0", 0},
	}
	for _, c := range cases {
		got, err := parseOffset(c.in)
		if err != nil {
			t.Fatalf("parseOffset(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parseOffset(%q) = %#x, want %#x", c.in, got, c.want)
		}
	}
}

func TestParseOffsetRejectsGarbage(t *testing.T) {
	if _, err := parseOffset("not-a-number"); err == nil {
		t.Fatal("expected error")
	}
}
