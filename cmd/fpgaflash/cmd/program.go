package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openjtagtools/fpgaflash/pkg/orchestrator"
)

var (
	programBoard     string
	programCable     string
	programOffset    string
	programDisplay   bool
	programReset     bool
	programBridgeDir string
)

var programCmd = &cobra.Command{
	Use:   "program <bitstream>",
	Short: "Program a bitstream or flash image onto the attached device",
	Long: `program resolves the attached cable, scans the JTAG chain, looks up
the part by IDCODE, and loads the given file: directly into SRAM/JEDEC
fuses for a native container (.bit/.svf/.fs/.jed), or indirectly through a
bridge bitstream into attached flash for anything else (.rpd/.mcs/.bin).

Examples:
  fpgaflash program design.bit
  fpgaflash program -b arty -r firmware.bit
  fpgaflash program -c ft2232 -o 0x100000 image.rpd`,
	Args: cobra.ExactArgs(1),
	RunE: runProgram,
}

func init() {
	rootCmd.AddCommand(programCmd)

	programCmd.Flags().StringVarP(&programBoard, "board", "b", "", "board name, resolved to a cable")
	programCmd.Flags().StringVarP(&programCable, "cable", "c", "", "cable name (overrides --board)")
	programCmd.Flags().StringVarP(&programOffset, "offset", "o", "0x0", "flash offset (0x-prefixed hex, or decimal)")
	programCmd.Flags().BoolVarP(&programDisplay, "display", "d", false, "print bitstream metadata before programming")
	programCmd.Flags().BoolVarP(&programReset, "reset", "r", false, "issue a post-program device reset")
	programCmd.Flags().StringVar(&programBridgeDir, "bridge-dir", "", "directory holding bridge bitstreams (default /usr/local/share/fpgaflash)")
}

func runProgram(cmd *cobra.Command, args []string) error {
	offset, err := parseOffset(programOffset)
	if err != nil {
		return err
	}

	path := args[0]
	if programDisplay {
		if err := printBitstreamInfo(path); err != nil {
			return err
		}
	}

	opts := orchestrator.Options{
		BitstreamPath: path,
		Board:         programBoard,
		Cable:         programCable,
		Offset:        offset,
		Reset:         programReset,
		BridgeDir:     programBridgeDir,
	}
	return orchestrator.Run(opts, con)
}

// parseOffset accepts both "0x..." and bare-decimal forms.
func parseOffset(orig string) (uint32, error) {
	s := strings.TrimSpace(orig)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", orig, err)
	}
	return uint32(v), nil
}
