// Package idtable is the static IDCODE to FPGA/CPLD descriptor table used by
// the orchestrator to pick a device driver once chain scan has read back an
// IDCODE. Lookup is total for supported parts and returns ok=false otherwise.
package idtable

// Vendor enumerates the device families this module knows how to program.
type Vendor string

const (
	VendorXilinx  Vendor = "xilinx"
	VendorAltera  Vendor = "altera"
	VendorLattice Vendor = "lattice"
	VendorGowin   Vendor = "gowin"
)

// Descriptor is the static per-part information the orchestrator and device
// drivers need: which vendor state machine to run, how long the instruction
// register is, and which bridge bitstream (if any) unlocks indirect flash
// programming for this part.
type Descriptor struct {
	Vendor     Vendor
	Family     string
	Model      string
	IRLen      int
	FlashBridge string // bridge bitstream base name, "" if none defined
}

// table is read-only static data, populated once at package init. It is
// never mutated at runtime (spec: "no global mutable state except the
// static IDCODE and board tables").
var table = map[uint32]Descriptor{
	// Xilinx 7-series and UltraScale samples.
	0x03631093: {Vendor: VendorXilinx, Family: "artix7", Model: "XC7A35T", IRLen: 6, FlashBridge: "spiOverJtag_xc7a35t"},
	0x0362D093: {Vendor: VendorXilinx, Family: "artix7", Model: "XC7A100T", IRLen: 6, FlashBridge: "spiOverJtag_xc7a100t"},
	0x03636093: {Vendor: VendorXilinx, Family: "artix7", Model: "XC7A200T", IRLen: 6, FlashBridge: "spiOverJtag_xc7a200t"},
	0x037C4093: {Vendor: VendorXilinx, Family: "kintex7", Model: "XC7K325T", IRLen: 6, FlashBridge: "spiOverJtag_xc7k325t"},
	0x04A62093: {Vendor: VendorXilinx, Family: "zynq7", Model: "XC7Z020", IRLen: 6, FlashBridge: "spiOverJtag_xc7z020"},

	// Older Virtex families shipped with parallel BPI NOR rather than SPI;
	// FlashBridge carries the "bpi_" prefix the orchestrator uses to pick
	// pkg/flash/bpibridge over pkg/flash/spibridge.
	0x04244093: {Vendor: VendorXilinx, Family: "virtex6", Model: "XC6VLX240T", IRLen: 6, FlashBridge: "bpi_xc6vlx240t"},

	// Altera/Intel MAX10 and Cyclone samples.
	0x02D020DD: {Vendor: VendorAltera, Family: "cyclone4", Model: "EP4CE6", IRLen: 10, FlashBridge: ""},
	0x020F50DD: {Vendor: VendorAltera, Family: "cyclone5", Model: "5CEBA4", IRLen: 10, FlashBridge: ""},
	0x031050DD: {Vendor: VendorAltera, Family: "max10", Model: "10M08", IRLen: 10, FlashBridge: ""},

	// Lattice ECP5/MachXO2 samples.
	0x21111043: {Vendor: VendorLattice, Family: "ecp5", Model: "LFE5U-25F", IRLen: 8, FlashBridge: ""},
	0x41111043: {Vendor: VendorLattice, Family: "ecp5", Model: "LFE5U-45F", IRLen: 8, FlashBridge: ""},
	0x01218043: {Vendor: VendorLattice, Family: "machxo2", Model: "LCMXO2-1200HC", IRLen: 8, FlashBridge: ""},

	// Gowin GW1N/GW2A family, keyed exactly as the §4.3a idcode table.
	0x0900281B: {Vendor: VendorGowin, Family: "GW1N-1", Model: "GW1N-1", IRLen: 8, FlashBridge: ""},
	0x0900381B: {Vendor: VendorGowin, Family: "GW1N-1S", Model: "GW1N-1S", IRLen: 8, FlashBridge: ""},
	0x0100681B: {Vendor: VendorGowin, Family: "GW1NZ-1", Model: "GW1NZ-1", IRLen: 8, FlashBridge: ""},
	0x0100181B: {Vendor: VendorGowin, Family: "GW1N-2", Model: "GW1N-2", IRLen: 8, FlashBridge: ""},
	0x1100181B: {Vendor: VendorGowin, Family: "GW1N-2B", Model: "GW1N-2B", IRLen: 8, FlashBridge: ""},
	0x0300081B: {Vendor: VendorGowin, Family: "GW1NS-2", Model: "GW1NS-2", IRLen: 8, FlashBridge: ""},
	0x0300181B: {Vendor: VendorGowin, Family: "GW1NSx-2C", Model: "GW1NSx-2C", IRLen: 8, FlashBridge: ""},
	0x0100981B: {Vendor: VendorGowin, Family: "GW1NSR-4C", Model: "GW1NSR-4C", IRLen: 8, FlashBridge: ""},
	0x0100381B: {Vendor: VendorGowin, Family: "GW1N-4", Model: "GW1N-4(ES)", IRLen: 8, FlashBridge: ""},
	0x1100381B: {Vendor: VendorGowin, Family: "GW1N-4B", Model: "GW1N-4B", IRLen: 8, FlashBridge: ""},
	0x0100481B: {Vendor: VendorGowin, Family: "GW1N-9C", Model: "GW1N-6(9C ES)", IRLen: 8, FlashBridge: ""},
	0x1100481B: {Vendor: VendorGowin, Family: "GW1N-9C", Model: "GW1N-9C", IRLen: 8, FlashBridge: ""},
	0x0100581B: {Vendor: VendorGowin, Family: "GW1N-9", Model: "GW1N-9(ES)", IRLen: 8, FlashBridge: ""},
	0x1100581B: {Vendor: VendorGowin, Family: "GW1N-9", Model: "GW1N-9", IRLen: 8, FlashBridge: ""},
	0x0000081B: {Vendor: VendorGowin, Family: "GW2A-18", Model: "GW2A-18", IRLen: 8, FlashBridge: ""},
	0x0000281B: {Vendor: VendorGowin, Family: "GW2A-55", Model: "GW2A-55", IRLen: 8, FlashBridge: ""},
}

// Lookup returns the descriptor for a given IDCODE. ok is false when the
// IDCODE isn't in the table, which the orchestrator surfaces as
// errs.ErrUnsupportedDevice.
func Lookup(idcode uint32) (Descriptor, bool) {
	d, ok := table[idcode]
	return d, ok
}
