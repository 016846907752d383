package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjtagtools/fpgaflash/pkg/orchestrator"
)

var (
	dumpBoard     string
	dumpCable     string
	dumpOffset    string
	dumpLength    int
	dumpBridgeDir string
)

var dumpCmd = &cobra.Command{
	Use:   "dump <output file>",
	Short: "Read back attached flash contents to a file",
	Long: `dump brings up the same SPI/BPI bridge program would use for an
indirect load, then reads length bytes starting at offset and writes them
to the given file. The read buffer is heap-allocated regardless of size
(see DESIGN.md on the original dumpflash VLA).`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVarP(&dumpBoard, "board", "b", "", "board name, resolved to a cable")
	dumpCmd.Flags().StringVarP(&dumpCable, "cable", "c", "", "cable name (overrides --board)")
	dumpCmd.Flags().StringVarP(&dumpOffset, "offset", "o", "0x0", "flash offset (0x-prefixed hex, or decimal)")
	dumpCmd.Flags().IntVar(&dumpLength, "bytes", 1<<20, "number of bytes to read")
	dumpCmd.Flags().StringVar(&dumpBridgeDir, "bridge-dir", "", "directory holding bridge bitstreams")
}

func runDump(cmd *cobra.Command, args []string) error {
	offset, err := parseOffset(dumpOffset)
	if err != nil {
		return err
	}

	data, err := orchestrator.Dump(orchestrator.DumpOptions{
		Board:     dumpBoard,
		Cable:     dumpCable,
		Offset:    offset,
		Length:    dumpLength,
		BridgeDir: dumpBridgeDir,
	}, con)
	if err != nil {
		return err
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("dump: write %s: %w", args[0], err)
	}
	con.Success("wrote %d bytes to %s", len(data), args[0])
	return nil
}
