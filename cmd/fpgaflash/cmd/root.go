package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/console"
)

// con is the shared reporting sink every subcommand writes through; built
// once rootCmd's PersistentPreRun has seen the -v flag.
var con *console.Console

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "fpgaflash",
	Short:   "Cross-vendor FPGA/CPLD bitstream and flash programmer over JTAG",
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		con = console.New(os.Stdout)
		con.Verbose(verbose)
	},
}

// Execute runs the root command and, on a returned error, exits with the
// code exitCodeFor picks (§6: 1 for invalid arguments and unsupported
// devices, 2 for programming failures that originate deeper in the
// orchestrator).
func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
