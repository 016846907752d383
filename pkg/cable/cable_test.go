package cable

import "testing"

func TestPackUnpackBitsLSBRoundTrip(t *testing.T) {
	cases := [][]bool{
		{},
		{true},
		{false},
		{true, false, true, true, false, false, true, false},
		{true, false, true, true, false, false, true, false, true},
	}
	for _, bits := range cases {
		packed := packBitsLSB(bits)
		got := unpackBitsLSB(packed, len(bits))
		if len(got) != len(bits) {
			t.Fatalf("length mismatch: got %d want %d", len(got), len(bits))
		}
		for i := range bits {
			if got[i] != bits[i] {
				t.Fatalf("bit %d: got %v want %v (packed=%v)", i, got[i], bits[i], packed)
			}
		}
	}
}

func TestLookupKnownCables(t *testing.T) {
	for _, name := range []string{"ft2232", "ft231x", "usb_blaster", "gowin_bridge", "esp-usb-jtag", "jlink", "fx2", "blackmagic", "xvc", "remote-bitbang"} {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Lookup(%q) not found", name)
		}
	}
	if _, ok := Lookup("nonexistent"); ok {
		t.Errorf("Lookup(nonexistent) unexpectedly found")
	}
}

func TestOpenUnknownCableIsConfigurationError(t *testing.T) {
	if _, err := Open("nonexistent-cable"); err == nil {
		t.Fatal("expected error for unknown cable name")
	}
}
