package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream"
	"github.com/openjtagtools/fpgaflash/pkg/idcode"
)

var infoCmd = &cobra.Command{
	Use:   "info <bitstream>",
	Short: "Print bitstream metadata without touching any cable",
	Long: `info parses a bitstream through the same pkg/bitstream dispatch
program uses, and prints its container format, payload length, and any
IDCODE/checksum the container carries. No transport is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printBitstreamInfo(args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printBitstreamInfo(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	art, err := bitstream.Load(path, data)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}

	fmt.Printf("file:       %s\n", path)
	fmt.Printf("format:     %s\n", art.Format)
	fmt.Printf("bit length: %d\n", art.BitLength)
	if art.IDCode != 0 {
		parsed := idcode.ParseIDCode(art.IDCode)
		fmt.Printf("idcode:     %#08x\n", art.IDCode)
		if m, ok := idcode.LookupManufacturer(parsed.ManufacturerCode); ok {
			fmt.Printf("manufacturer: %s (%s)\n", m.Name, m.Abbreviation)
		}
	}
	if art.BaseAddr != 0 {
		fmt.Printf("base addr:  %#08x\n", art.BaseAddr)
	}
	if art.Checksum != 0 {
		fmt.Printf("checksum:   %#04x\n", art.Checksum)
	}
	return nil
}
