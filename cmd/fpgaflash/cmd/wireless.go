package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjtagtools/fpgaflash/pkg/icev"
)

var (
	wirelessDevice string
	wirelessRAM    bool
)

var wirelessCmd = &cobra.Command{
	Use:   "wireless <bitstream>",
	Short: "Upload a bitstream to an iceV Wireless companion over serial",
	Long: `wireless talks to an ESP32-C3 companion chip over a serial port
instead of a JTAG cable, per the iCEV wireless protocol: it opens the
port, confirms the companion answers a battery and info query, then sends
the whole file either into SPIFFS (persisted across power cycles) or
straight into the ice40's SRAM.

Examples:
  fpgaflash wireless -d /dev/ttyUSB0 design.bin
  fpgaflash wireless -d /dev/ttyUSB0 --ram design.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runWireless,
}

func init() {
	rootCmd.AddCommand(wirelessCmd)

	wirelessCmd.Flags().StringVarP(&wirelessDevice, "device", "d", "", "serial device the companion chip is attached to")
	wirelessCmd.Flags().BoolVar(&wirelessRAM, "ram", false, "load directly into SRAM instead of SPIFFS")
	wirelessCmd.MarkFlagRequired("device")
}

func runWireless(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("wireless: read %s: %w", args[0], err)
	}

	u, err := icev.Open(wirelessDevice)
	if err != nil {
		return err
	}
	defer u.Close()

	version, ipaddr, err := u.ReadInfo()
	if err != nil {
		return err
	}
	con.Info("companion firmware %s at %s", version, ipaddr)

	target := byte(icev.CmdPrgSPIFFS)
	if wirelessRAM {
		target = byte(icev.CmdPrgRAM)
	}
	if err := u.SendFile(target, data); err != nil {
		return fmt.Errorf("wireless: upload: %w", err)
	}
	con.Success("uploaded %s (%d bytes)", args[0], len(data))
	return nil
}
