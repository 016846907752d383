// Package orchestrator implements C6: the startup sequence that turns a
// board/cable name and a bitstream path into a programmed device. It is the
// only package that constructs a cable, engine, and device driver together;
// everything downstream only ever sees the narrow interfaces those layers
// already expose.
package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/gousb"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream"
	"github.com/openjtagtools/fpgaflash/pkg/board"
	"github.com/openjtagtools/fpgaflash/pkg/cable"
	"github.com/openjtagtools/fpgaflash/pkg/device"
	"github.com/openjtagtools/fpgaflash/pkg/device/idtable"
	"github.com/openjtagtools/fpgaflash/pkg/flash/bpibridge"
	"github.com/openjtagtools/fpgaflash/pkg/flash/epcq"
	"github.com/openjtagtools/fpgaflash/pkg/flash/spibridge"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/console"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
	"github.com/openjtagtools/fpgaflash/pkg/jtagengine"
)

// defaultBridgeDir mirrors the hardcoded /usr/local/share path the original
// tool reads spiOverJtag_*.bit and test_sfl.svf from (xilinx.cpp, altera.cpp).
const defaultBridgeDir = "/usr/local/share/fpgaflash"

// defaultEPCQClockHz is the MPSSE-SPI rate used for the dedicated Altera
// EPCQ link; comfortably inside AN_135's divisor table (divisorFor(6e6)=4).
const defaultEPCQClockHz = 6_000_000

// Options carries everything the CLI layer gathers from flags (§6).
type Options struct {
	BitstreamPath string
	Board         string
	Cable         string
	Offset        uint32
	Reset         bool
	BridgeDir     string // defaults to defaultBridgeDir when empty
}

// Run executes the full §4.6 startup sequence: resolve cable, open
// transport, build the engine, scan the chain, look up the part, load the
// artifact, dispatch to its driver, program, and optionally reset.
func Run(opts Options, out *console.Console) error {
	if opts.BridgeDir == "" {
		opts.BridgeDir = defaultBridgeDir
	}

	cableName, err := resolveCableName(opts)
	if err != nil {
		return err
	}
	out.Debug("using cable %q", cableName)

	c, err := cable.Open(cableName)
	if err != nil {
		return fmt.Errorf("orchestrator: open cable %q: %w", cableName, err)
	}
	defer c.Close()

	eng := jtagengine.New(c)

	desc, idcode, err := scanChain(eng)
	if err != nil {
		return err
	}
	out.Info("found %s %s (idcode %#08x)", desc.Vendor, desc.Model, idcode)

	data, err := os.ReadFile(opts.BitstreamPath)
	if err != nil {
		return fmt.Errorf("orchestrator: read %s: %w", opts.BitstreamPath, err)
	}
	art, err := bitstream.Load(opts.BitstreamPath, data)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	drv, err := buildDriver(eng, desc, art, cableName, opts.BridgeDir)
	if err != nil {
		return err
	}

	if err := drv.Program(opts.Offset); err != nil {
		if errors.Is(err, errs.ErrFlashVerifyMismatch) {
			out.Fail("%v", err)
		} else {
			return fmt.Errorf("orchestrator: program: %w", err)
		}
	} else {
		out.Success("programmed %s", opts.BitstreamPath)
	}

	if opts.Reset {
		if err := drv.Reset(); err != nil {
			return fmt.Errorf("orchestrator: reset: %w", err)
		}
	}
	return nil
}

// resolveCableName implements §4.6 step 1: an explicit -c/--cable flag wins
// outright; otherwise a -b/--board name resolves through the static table
// (an unknown board is a configuration error); with neither flag, fall back
// to the ft2232 default.
func resolveCableName(opts Options) (string, error) {
	if opts.Cable != "" {
		if _, ok := cable.Lookup(opts.Cable); !ok {
			return "", fmt.Errorf("orchestrator: unknown cable %q: %w", opts.Cable, errs.ErrConfiguration)
		}
		return opts.Cable, nil
	}
	if opts.Board != "" {
		name, ok := board.Resolve(opts.Board)
		if !ok {
			return "", fmt.Errorf("orchestrator: unknown board %q: %w", opts.Board, errs.ErrConfiguration)
		}
		return name, nil
	}
	return "ft2232", nil
}

// buildDriver constructs the vendor driver for desc, wiring in a bridge
// bitstream and flash programmer when the input artifact calls for indirect
// (flash) programming rather than a direct SRAM/JEDEC load.
func buildDriver(eng *jtagengine.Engine, desc idtable.Descriptor, art *bitstream.Artifact, cableName, bridgeDir string) (device.Driver, error) {
	switch desc.Vendor {
	case idtable.VendorXilinx:
		if art.Format == bitstream.FormatXilinxBit {
			return device.NewXilinx(eng, desc, art, nil, nil), nil
		}
		bridgeArt, flash, err := xilinxFlashBridge(eng, desc, bridgeDir)
		if err != nil {
			return nil, err
		}
		return device.NewXilinx(eng, desc, art, bridgeArt, flash), nil

	case idtable.VendorAltera:
		if art.Format == bitstream.FormatRaw {
			return device.NewAltera(eng, desc, art, art.Bits, nil), nil
		}
		bridgeSVF, err := readBridgeFile(bridgeDir, "test_sfl.svf")
		if err != nil {
			return nil, err
		}
		flash, err := epcqFlashProgrammer(cableName)
		if err != nil {
			return nil, err
		}
		return device.NewAltera(eng, desc, art, bridgeSVF, flash), nil

	case idtable.VendorGowin:
		return device.NewGowin(eng, desc, art), nil

	case idtable.VendorLattice:
		return device.NewLattice(eng, desc, art), nil

	default:
		return nil, fmt.Errorf("orchestrator: vendor %q: %w", desc.Vendor, errs.ErrUnsupportedDevice)
	}
}

// xilinxFlashBridge loads the bridge bitstream named by desc.FlashBridge and
// picks the matching flash bridge: "bpi_" names drive pkg/flash/bpibridge
// (parallel NOR, §4.5c), anything else drives pkg/flash/spibridge (SPI-NOR
// over the spiOverJtag_ bridge, §4.5a).
func xilinxFlashBridge(eng *jtagengine.Engine, desc idtable.Descriptor, bridgeDir string) (*bitstream.Artifact, device.FlashProgrammer, error) {
	if desc.FlashBridge == "" {
		return nil, nil, fmt.Errorf("orchestrator: %s has no flash bridge defined: %w", desc.Model, errs.ErrConfiguration)
	}
	bridgeData, err := readBridgeFile(bridgeDir, desc.FlashBridge+".bit")
	if err != nil {
		return nil, nil, err
	}
	bridgeArt, err := bitstream.Load(desc.FlashBridge+".bit", bridgeData)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: bridge bitstream %s: %w", desc.FlashBridge, err)
	}

	if strings.HasPrefix(desc.FlashBridge, "bpi_") {
		return bridgeArt, bpibridge.New(eng, desc.IRLen), nil
	}
	return bridgeArt, spibridge.NewProgrammer(eng, desc.IRLen), nil
}

// epcqFlashProgrammer opens the dedicated MPSSE-SPI link EPCQ/EPCS devices
// use (§4.5b): a second interface on the same FTDI part the JTAG cable is
// attached to, since the EPCQ pins share the adapter but never the JTAG
// shift register.
func epcqFlashProgrammer(cableName string) (device.FlashProgrammer, error) {
	cd, ok := cable.Lookup(cableName)
	if !ok {
		return nil, fmt.Errorf("orchestrator: cable %q: %w", cableName, errs.ErrConfiguration)
	}
	programmer, _, err := epcq.New(gousb.ID(cd.VID), gousb.ID(cd.PID), cd.Interface+1, defaultEPCQClockHz, true)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open epcq link: %w", err)
	}
	return programmer, nil
}

func readBridgeFile(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: bridge file %s: %w", name, errs.ErrConfiguration)
	}
	return data, nil
}

// scanChain implements §4.6 steps 4-5: a single-device chain scan followed
// by an idtable lookup.
func scanChain(eng *jtagengine.Engine) (idtable.Descriptor, uint32, error) {
	idcodes, err := eng.DetectChain(5)
	if err != nil {
		return idtable.Descriptor{}, 0, fmt.Errorf("orchestrator: chain scan: %w", err)
	}
	if len(idcodes) == 0 {
		return idtable.Descriptor{}, 0, fmt.Errorf("orchestrator: chain scan found no devices: %w", errs.ErrUnsupportedDevice)
	}
	if len(idcodes) > 1 {
		return idtable.Descriptor{}, 0, fmt.Errorf("orchestrator: chain scan found %d devices, only one is supported: %w", len(idcodes), errs.ErrUnsupportedDevice)
	}
	desc, ok := idtable.Lookup(idcodes[0])
	if !ok {
		return idtable.Descriptor{}, 0, fmt.Errorf("orchestrator: idcode %#08x: %w", idcodes[0], errs.ErrUnsupportedDevice)
	}
	return desc, idcodes[0], nil
}

// flashReader is the read-back capability the dump subcommand needs;
// *spiflash.Programmer and *bpibridge.Bridge both implement it.
type flashReader interface {
	Dump(addr uint32, length int) ([]byte, error)
}

// DumpOptions carries the flags the "dump" subcommand gathers.
type DumpOptions struct {
	Board     string
	Cable     string
	Offset    uint32
	Length    int
	BridgeDir string
}

// Dump reads back length bytes from the attached flash starting at offset,
// the supplemented read-only counterpart to Run (§4, "dump subcommand").
// Unlike Run it never touches a bitstream file: it only needs to identify
// the part and bring its flash bridge up.
func Dump(opts DumpOptions, out *console.Console) ([]byte, error) {
	if opts.BridgeDir == "" {
		opts.BridgeDir = defaultBridgeDir
	}

	cableName, err := resolveCableName(Options{Board: opts.Board, Cable: opts.Cable})
	if err != nil {
		return nil, err
	}

	c, err := cable.Open(cableName)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open cable %q: %w", cableName, err)
	}
	defer c.Close()

	eng := jtagengine.New(c)
	desc, idcode, err := scanChain(eng)
	if err != nil {
		return nil, err
	}
	out.Info("found %s %s (idcode %#08x)", desc.Vendor, desc.Model, idcode)

	var reader flashReader
	switch desc.Vendor {
	case idtable.VendorXilinx:
		bridgeArt, flash, err := xilinxFlashBridge(eng, desc, opts.BridgeDir)
		if err != nil {
			return nil, err
		}
		drv := device.NewXilinx(eng, desc, nil, bridgeArt, flash)
		if err := drv.LoadBridge(); err != nil {
			return nil, fmt.Errorf("orchestrator: load bridge: %w", err)
		}
		r, ok := flash.(flashReader)
		if !ok {
			return nil, fmt.Errorf("orchestrator: %s flash bridge has no read-back support: %w", desc.Model, errs.ErrConfiguration)
		}
		reader = r

	case idtable.VendorAltera:
		flash, err := epcqFlashProgrammer(cableName)
		if err != nil {
			return nil, err
		}
		r, ok := flash.(flashReader)
		if !ok {
			return nil, fmt.Errorf("orchestrator: %s flash bridge has no read-back support: %w", desc.Model, errs.ErrConfiguration)
		}
		reader = r

	default:
		return nil, fmt.Errorf("orchestrator: %s has no attached flash to dump: %w", desc.Vendor, errs.ErrConfiguration)
	}

	return reader.Dump(opts.Offset, opts.Length)
}
