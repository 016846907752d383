// Package bitstream dispatches a configuration file to the parser for its
// container format, transparently unwrapping a gzip envelope first (every
// format below accepts a .gz/.gzip twin of its normal extension).
package bitstream

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/openjtagtools/fpgaflash/pkg/bitstream/alterarpd"
	"github.com/openjtagtools/fpgaflash/pkg/bitstream/gowinfs"
	"github.com/openjtagtools/fpgaflash/pkg/bitstream/intelhex"
	"github.com/openjtagtools/fpgaflash/pkg/bitstream/jed"
	"github.com/openjtagtools/fpgaflash/pkg/bitstream/raw"
	"github.com/openjtagtools/fpgaflash/pkg/bitstream/xilinxbit"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// Format identifies the container a file was parsed as.
type Format string

const (
	FormatXilinxBit Format = "bit"
	FormatGowinFS   Format = "fs"
	FormatAlteraRPD Format = "rpd"
	FormatIntelHex  Format = "mcs"
	FormatJED       Format = "jed"
	FormatRaw       Format = "raw"
)

// Artifact is the parser-agnostic view every downstream consumer (device
// drivers, flash bridges) programs against: a packed bit payload plus
// enough provenance to explain a verify failure.
type Artifact struct {
	Format    Format
	Bits      []byte
	BitLength int
	IDCode     uint32 // 0 if the container carries none
	BaseAddr   uint32 // non-zero only for intelhex
	Checksum   uint32 // device-readback checksum to verify against, FormatGowinFS only
	FeatureRow []bool // feabits/feature-row bits, FormatJED only
}

// Load takes the contents of the file at path as data, unwraps a gzip
// envelope if present, and parses it according to path's (post-unwrap)
// extension. It does not read the file itself.
func Load(path string, data []byte) (*Artifact, error) {
	name := path
	if gz, err := maybeGunzip(data); err != nil {
		return nil, err
	} else if gz != nil {
		data = gz
		name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".gzip")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "bit":
		res, err := xilinxbit.Parse(data)
		if err != nil {
			return nil, err
		}
		return &Artifact{Format: FormatXilinxBit, Bits: res.Bits, BitLength: res.BitLength}, nil
	case "fs":
		res, err := gowinfs.Parse(data, true)
		if err != nil {
			return nil, err
		}
		if !res.VerifyChecksum() {
			return nil, fmt.Errorf("bitstream: gowin checksum mismatch (computed %#04x, declared %#04x): %w",
				res.ComputedChecksum, res.Header.DeclaredCheck, errs.ErrParse)
		}
		return &Artifact{Format: FormatGowinFS, Bits: res.Bits, BitLength: res.BitLength, IDCode: res.Header.IDCode, Checksum: uint32(res.ComputedChecksum)}, nil
	case "rpd":
		res, err := alterarpd.Parse(data)
		if err != nil {
			return nil, err
		}
		return &Artifact{Format: FormatAlteraRPD, Bits: res.Bits, BitLength: res.BitLength}, nil
	case "mcs", "hex":
		res, err := intelhex.Parse(data)
		if err != nil {
			return nil, err
		}
		return &Artifact{Format: FormatIntelHex, Bits: res.Bits, BitLength: res.BitLength, BaseAddr: res.BaseAddr}, nil
	case "jed", "jedec", "jbc":
		res, err := jed.Parse(data)
		if err != nil {
			return nil, err
		}
		return &Artifact{Format: FormatJED, Bits: res.Bits, BitLength: res.BitLength, FeatureRow: res.FeatureRow}, nil
	default:
		res, err := raw.Parse(data, false)
		if err != nil {
			return nil, err
		}
		return &Artifact{Format: FormatRaw, Bits: res.Bits, BitLength: res.BitLength}, nil
	}
}

// maybeGunzip returns the decompressed payload if data carries a gzip
// magic header, or nil (not an error) if it does not.
func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bitstream: gzip header: %w: %v", errs.ErrParse, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("bitstream: gzip decompress: %w: %v", errs.ErrParse, err)
	}
	return out, nil
}
