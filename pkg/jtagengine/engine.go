// Package jtagengine implements C2, the engine layer that turns IR/DR shift
// requests and chain-scan operations into the TMS/TDI wire traffic a
// cable.Cable actually sends. It owns the only live tap.StateMachine in the
// process and is the sole caller into pkg/cable from above pkg/device.
package jtagengine

import (
	"fmt"

	"github.com/openjtagtools/fpgaflash/pkg/cable"
	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
	"github.com/openjtagtools/fpgaflash/pkg/tap"
)

// Engine drives one JTAG chain through a cable.Cable, coalescing TMS/TDI/TDO
// traffic into buffers no larger than the cable's reported capacity (§3,
// §4.2). Buffering happens naturally here: every ShiftIR/ShiftDR call is one
// WriteTDI round trip already chunked to BufferCapacityBits by the
// transport itself, so the engine does not need a second chunking layer on
// top — it only needs to avoid handing a transport more bits than it asked
// for, which WriteTMS/WriteTDI already guarantee per call.
type Engine struct {
	c   cable.Cable
	sm  *tap.StateMachine
	irl int // IR length, set by the caller once the device's IDCODE is known
}

// New wraps an already-open Cable. The TAP is assumed to be in an unknown
// state; call GoTestLogicReset before any IR/DR operation.
func New(c cable.Cable) *Engine {
	return &Engine{c: c, sm: tap.NewStateMachine()}
}

// SetIRLength records the instruction register width of the target device.
// The engine only stores it: ShiftIR shifts exactly the bits it is given,
// with no bypass padding and no length check.
func (e *Engine) SetIRLength(bits int) { e.irl = bits }

// GoTestLogicReset clocks TMS high for five cycles regardless of current
// state, synchronizing the engine's tracked state with the silicon's.
func (e *Engine) GoTestLogicReset() error {
	seq := e.sm.Reset()
	return e.c.WriteTMS(seq.TMS, true)
}

// SetState drives the TAP to target via the shortest TMS sequence.
func (e *Engine) SetState(target tap.State) error {
	seq, err := e.sm.GoTo(target)
	if err != nil {
		return fmt.Errorf("jtagengine: %w: %v", errs.ErrProtocol, err)
	}
	if len(seq.TMS) == 0 {
		return nil
	}
	return e.c.WriteTMS(seq.TMS, true)
}

// State reports the engine's believed current TAP state.
func (e *Engine) State() tap.State { return e.sm.State() }

// shift drives the TAP from RunTestIdle (or wherever it currently sits)
// into the given Shift-IR/Shift-DR state, clocks bits through with TDI,
// raises TMS synchronously with the final bit to fall through to Exit1, and
// returns to Run-Test/Idle.
func (e *Engine) shift(shiftState tap.State, bits []bool, capture bool) ([]bool, error) {
	if len(bits) == 0 {
		return nil, fmt.Errorf("jtagengine: empty shift: %w", errs.ErrProtocol)
	}
	if err := e.SetState(shiftState); err != nil {
		return nil, err
	}
	tdo, err := e.c.WriteTDI(bits, capture, true)
	if err != nil {
		return nil, fmt.Errorf("jtagengine: shift: %w: %v", errs.ErrTransport, err)
	}
	// WriteTDI's raiseTMSOnLast already performed the Shift->Exit1
	// transition on the wire; mirror it in the tracked state machine.
	e.sm.Clock(true)
	if err := e.SetState(tap.StateRunTestIdle); err != nil {
		return nil, err
	}
	return tdo, nil
}

// ShiftIR shifts irBits into the instruction register and returns the
// captured bits when capture is true. The TAP returns to Run-Test/Idle.
func (e *Engine) ShiftIR(irBits []bool, capture bool) ([]bool, error) {
	return e.shift(tap.StateShiftIR, irBits, capture)
}

// ShiftDR shifts drBits into the data register and returns the captured
// bits when capture is true. The TAP returns to Run-Test/Idle.
func (e *Engine) ShiftDR(drBits []bool, capture bool) ([]bool, error) {
	return e.shift(tap.StateShiftDR, drBits, capture)
}

// ToggleClock idles n clocks holding TMS/TDI fixed without touching the
// tracked TAP state (used for device-specific settle/erase delays).
func (e *Engine) ToggleClock(tms, tdi bool, n int) error {
	return e.c.ToggleClock(tms, tdi, n)
}

// SetClockFrequency negotiates TCK rate with the underlying cable.
func (e *Engine) SetClockFrequency(hz int) (int, error) {
	return e.c.SetClockFrequency(hz)
}

// Flush forces any buffered bits to the wire.
func (e *Engine) Flush() error { return e.c.Flush() }

// DetectChain scans the chain for IDCODEs by shifting all-1s through DR
// from Test-Logic-Reset (every compliant TAP loads IDCODE or a 1-bit BYPASS
// register into DR on capture) and reading back 32-bit words until a
// terminating all-ones pattern, or maxWords is exhausted. It returns one
// uint32 per detected slot (zero for a BYPASS-only device, whose register
// has no IDCODE). Rejecting chains with more than one real device is an
// orchestrator policy (§4.6 step 4), not this function's concern.
func (e *Engine) DetectChain(maxWords int) ([]uint32, error) {
	if err := e.GoTestLogicReset(); err != nil {
		return nil, err
	}
	if err := e.SetState(tap.StateShiftDR); err != nil {
		return nil, err
	}
	nbits := maxWords * 32
	ones := make([]bool, nbits)
	for i := range ones {
		ones[i] = true
	}
	tdo, err := e.c.WriteTDI(ones, true, false)
	if err != nil {
		return nil, fmt.Errorf("jtagengine: detect chain: %w: %v", errs.ErrTransport, err)
	}
	if err := e.SetState(tap.StateRunTestIdle); err != nil {
		return nil, err
	}

	var ids []uint32
	for i := 0; i+32 <= len(tdo); i += 32 {
		word := tdo[i : i+32]
		allOnes := true
		for _, b := range word {
			if !b {
				allOnes = false
				break
			}
		}
		if allOnes {
			break
		}
		var v uint32
		for j, b := range word {
			if b {
				v |= 1 << uint(j)
			}
		}
		if v&1 == 0 {
			// LSB clear: this slot has no IDCODE register (BYPASS), reported
			// as zero per the chain-scan convention.
			v = 0
		}
		ids = append(ids, v)
	}
	return ids, nil
}
