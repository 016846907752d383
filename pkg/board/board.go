// Package board holds the static board-name to cable-name table consulted
// by the orchestrator's startup sequence (§4.6 step 1). It is read-only
// data, populated once at init.
package board

// boards maps a development-board name to the cable it ships with.
var boards = map[string]string{
	"arty":        "ft2232",
	"arty_a7":     "ft2232",
	"nexys_video": "ft2232",
	"ecpix5":      "ft231x",
	"orangecrab":  "dfu", // the cable table has no "dfu" entry, so opening this board's cable fails
	"tangnano9k":  "gowin_bridge",
	"de10nano":    "usb_blaster",
	"de0nano":     "usb_blaster",
	"ulx3s":       "ft231x",
}

// Resolve returns the cable name associated with a board, or ok=false when
// the board is unknown. The orchestrator consults it only when no cable
// name was given, and treats an unknown board as a configuration error.
func Resolve(name string) (string, bool) {
	cable, ok := boards[name]
	return cable, ok
}
