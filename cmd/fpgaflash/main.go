// Command fpgaflash is the CLI entry point (§6): a single-purpose
// bitstream/flash programmer over JTAG, covering SRAM, flash, and JEDEC
// fuse-map loads across the vendor families pkg/device supports.
package main

import "github.com/openjtagtools/fpgaflash/cmd/fpgaflash/cmd"

func main() {
	cmd.Execute()
}
