package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openjtagtools/fpgaflash/pkg/board"
	"github.com/openjtagtools/fpgaflash/pkg/cable"
	"github.com/openjtagtools/fpgaflash/pkg/device/idtable"
	"github.com/openjtagtools/fpgaflash/pkg/jtagengine"
)

var (
	detectBoard string
	detectCable string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Scan the JTAG chain and print every IDCODE found",
	RunE:  runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().StringVarP(&detectBoard, "board", "b", "", "board name, resolved to a cable")
	detectCmd.Flags().StringVarP(&detectCable, "cable", "c", "", "cable name (overrides --board)")
}

func runDetect(cmd *cobra.Command, args []string) error {
	cableName := detectCable
	if cableName == "" {
		if detectBoard != "" {
			if c, ok := board.Resolve(detectBoard); ok {
				cableName = c
			}
		}
	}
	if cableName == "" {
		cableName = "ft2232"
	}
	if _, ok := cable.Lookup(cableName); !ok {
		return fmt.Errorf("detect: unknown cable %q", cableName)
	}

	c, err := cable.Open(cableName)
	if err != nil {
		return fmt.Errorf("detect: open cable %q: %w", cableName, err)
	}
	defer c.Close()

	eng := jtagengine.New(c)
	idcodes, err := eng.DetectChain(5)
	if err != nil {
		return fmt.Errorf("detect: chain scan: %w", err)
	}

	if len(idcodes) == 0 {
		fmt.Println("no devices found")
		return nil
	}
	for i, id := range idcodes {
		desc, ok := idtable.Lookup(id)
		if !ok {
			fmt.Printf("%d: idcode %#08x (unsupported)\n", i, id)
			continue
		}
		fmt.Printf("%d: idcode %#08x  %s %s\n", i, id, desc.Vendor, desc.Model)
	}
	return nil
}
