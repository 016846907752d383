// Package errs defines the error taxonomy shared across every layer of the
// programmer: transports, the JTAG engine, bitstream parsers, device
// drivers, and flash bridges all wrap one of these sentinels so callers can
// classify a failure with errors.Is without depending on the originating
// package.
package errs

import "errors"

var (
	// ErrTransport marks a USB/TCP/serial failure at the cable layer. Never
	// retried inside the transport itself.
	ErrTransport = errors.New("transport error")

	// ErrProtocol marks an unexpected status byte, bad descriptor, or
	// chain-scan inconsistency.
	ErrProtocol = errors.New("protocol error")

	// ErrParse marks a malformed bitstream: bad checksum, unsupported
	// idcode, or a missing required field.
	ErrParse = errors.New("parse error")

	// Flash errors. FlashVerifyMismatch is the only one that does not abort
	// the run (see console.Fail).
	ErrFlashTimeout        = errors.New("flash: timeout")
	ErrFlashEraseFailed    = errors.New("flash: erase failed")
	ErrFlashProgramFailed  = errors.New("flash: program failed")
	ErrFlashVerifyMismatch = errors.New("flash: verify mismatch")

	// ErrUnsupportedDevice marks an IDCODE absent from idtable, or a chain
	// with more than one device when exactly one was expected.
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrConfiguration marks an unknown board/cable name or conflicting
	// flags (e.g. --reset combined with an SRAM-mode load).
	ErrConfiguration = errors.New("configuration error")
)
