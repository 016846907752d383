package cmd

import (
	"errors"

	"github.com/openjtagtools/fpgaflash/pkg/ftag/errs"
)

// exitCodeFor maps the §7 error taxonomy onto the §6 exit-code contract:
// 0 success (handled by cobra returning nil), 1 invalid arguments or an
// unsupported device, any other non-zero value a programming failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, errs.ErrConfiguration), errors.Is(err, errs.ErrUnsupportedDevice):
		return 1
	default:
		return 2
	}
}
